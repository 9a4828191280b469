/* Simulation.go: seeds a local property store with a simulated host
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package core

import (
	"github.com/kraken-hpc/chassisd/lib/chassis"
	"github.com/kraken-hpc/chassisd/lib/netsettings"
	"github.com/kraken-hpc/chassisd/lib/power"
	"github.com/kraken-hpc/chassisd/lib/propstore"
	"github.com/kraken-hpc/chassisd/lib/types"
)

// Services owning the simulated objects
const (
	SimPowerService    = "org.openbmc.control.Power"
	SimSettingsService = "org.openbmc.settings.Host"
	SimHostService     = "xyz.openbmc_project.State.Host"
	SimNetworkService  = "xyz.openbmc_project.Network"

	SimIPPath  = "/xyz/openbmc_project/network/host0/intf/addr"
	SimMACPath = "/xyz/openbmc_project/network/host0/intf"
)

type simObject struct {
	service string
	path    string
	iface   string
	props   types.PropertyMap
}

// simHost is a powered off host booting from the network with DHCP
var simHost = []simObject{
	{SimPowerService, chassis.PowerPath, chassis.PowerIface, types.PropertyMap{
		chassis.PropPgood: int32(0),
	}},
	{SimSettingsService, chassis.SettingsPath, chassis.SettingsIface, types.PropertyMap{
		chassis.PropPolicy:    "LEAVE_OFF",
		chassis.PropBootFlags: "Network",
		chassis.PropBootPol:   chassis.PolicyOneTime,
	}},
	{SimHostService, power.HostStatePath, power.HostStateIface, types.PropertyMap{
		power.PropRequested: string(power.TransitionOff),
	}},
	{SimNetworkService, SimIPPath, netsettings.IPInterface, types.PropertyMap{
		netsettings.PropAddress: "",
		netsettings.PropPrefix:  uint8(0),
		netsettings.PropOrigin:  netsettings.OriginDHCP,
		netsettings.PropGateway: "",
		netsettings.PropType:    netsettings.ProtocolIPv4,
	}},
	{SimNetworkService, SimMACPath, netsettings.MACInterface, types.PropertyMap{
		netsettings.PropMAC: "02:00:00:00:00:01",
	}},
}

// SeedMemory declares the simulated host in m
func SeedMemory(m *propstore.Memory) {
	for _, o := range simHost {
		m.AddObject(o.service, o.path, o.iface)
		for k, v := range o.props {
			m.Put(o.path, o.iface, k, v)
		}
	}
}

// SeedBolt declares any simulated object b does not have yet; existing values are kept
func SeedBolt(b *propstore.Bolt) error {
	for _, o := range simHost {
		if _, e := b.FindObject(o.iface, o.path, ""); e == nil {
			continue
		}
		if e := b.AddObject(o.service, o.path, o.iface); e != nil {
			return e
		}
		for k, v := range o.props {
			if e := b.Put(o.path, o.iface, k, v); e != nil {
				return e
			}
		}
	}
	return nil
}
