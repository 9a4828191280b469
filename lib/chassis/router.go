/* router.go: answers IPMI chassis netfn commands
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

// Package chassis implements the IPMI chassis command set on top of the
// property store, the power sequencer and the network settings codec.
package chassis

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kraken-hpc/chassisd/lib/ipmi"
	"github.com/kraken-hpc/chassisd/lib/netsettings"
	"github.com/kraken-hpc/chassisd/lib/power"
	"github.com/kraken-hpc/chassisd/lib/types"
)

var _ ipmi.Handler = (*Router)(nil)

// Host settings and power objects
const (
	PowerPath     = "/org/openbmc/control/power0"
	PowerIface    = "org.openbmc.control.Power"
	PropPgood     = "pgood"
	SettingsPath  = "/org/openbmc/settings/host0"
	SettingsIface = "org.openbmc.settings.Host"
	PropPolicy    = "power_policy"
	PropBootFlags = "boot_flags"
	PropBootPol   = "boot_policy"
)

// System boot option parameters
const (
	ParamBootFlags       uint8 = 0x05
	ParamNetworkSettings uint8 = 0x61

	BootOptionVersion uint8 = 0x01

	// boot flags data[0]
	BootFlagsValid     uint8 = 0x80
	BootFlagsPermanent uint8 = 0x40
	BootFlagsOneTime         = BootFlagsValid
	BootFlagsPersist         = BootFlagsValid | BootFlagsPermanent

	bootFlagsDataLen = 5

	PolicyPermanent = "PERMANENT"
	PolicyOneTime   = "ONETIME"
)

// Capabilities is the fixed Get Chassis Capabilities response:
// no capability flags, and this controller for the FRU, SDR, SEL,
// system management and bridge devices.
var Capabilities = [6]byte{0x00, 0x20, 0x20, 0x20, 0x20, 0x20}

// powerPolicies are the restore policy codes of the status byte; anything else is 3
var powerPolicies = map[string]uint8{
	"LEAVE_OFF":          0,
	"RESTORE_LAST_STATE": 1,
	"ALWAYS_POWER_ON":    2,
}

const policyUnknown uint8 = 3

// bootDevices maps boot device selectors to boot_flags values
var bootDevices = map[uint8]string{
	0x01: "Network",
	0x02: "Disk",
	0x03: "Safe",
	0x05: "CDROM",
	0x06: "Setup",
	0x00: "Default",
}

// BootDevice returns the selector for a boot_flags value; unknown values are Default
func BootDevice(name string) (uint8, bool) {
	for k, v := range bootDevices {
		if v == name {
			return k, true
		}
	}
	return 0, false
}

// BootDeviceName returns the boot_flags value for selector sel
func BootDeviceName(sel uint8) (string, bool) {
	n, ok := bootDevices[sel]
	return n, ok
}

// controlActions maps Chassis Control codes to power actions
var controlActions = map[uint8]power.Action{
	ipmi.IPMIChassisCtlDown:      power.ActionOff,
	ipmi.IPMIChassisCtlUp:        power.ActionOn,
	ipmi.IPMIChassisCtlCycle:     power.ActionPowerCycle,
	ipmi.IPMIChassisCtlHardReset: power.ActionHardReset,
}

// A Sequencer carries out power actions
type Sequencer interface {
	Do(power.Action) error
}

type command func(data []byte, l logrus.FieldLogger) (uint8, []byte)

// Router dispatches chassis commands. Each call runs to completion.
type Router struct {
	store    types.PropertyStore
	seq      Sequencer
	log      logrus.FieldLogger
	commands map[uint8]command
}

func NewRouter(store types.PropertyStore, seq Sequencer, log logrus.FieldLogger) *Router {
	r := &Router{
		store: store,
		seq:   seq,
		log:   log,
	}
	r.commands = map[uint8]command{
		ipmi.IPMICmdChassisCap:        r.capabilities,
		ipmi.IPMICmdChassisStatus:     r.status,
		ipmi.IPMICmdChassisCtl:        r.control,
		ipmi.IPMICmdSetSysBootOptions: r.setBootOptions,
		ipmi.IPMICmdGetSysBootOptions: r.getBootOptions,
		ipmi.IPMICmdWildcard:          r.wildcard,
	}
	return r
}

// ServeIPMI implements ipmi.Handler
func (r *Router) ServeIPMI(netFn, cmd uint8, data []byte) (uint8, []byte) {
	l := r.log.WithFields(logrus.Fields{
		"netfn": fmt.Sprintf("0x%02x", netFn),
		"cmd":   fmt.Sprintf("0x%02x", cmd),
	})
	if netFn != ipmi.IPMIFnChassisReq {
		l.Debug("not a chassis request")
		return ipmi.IPMICmpInvalid, nil
	}
	c, ok := r.commands[cmd]
	if !ok {
		c = r.wildcard
	}
	return c(data, l)
}

func (r *Router) wildcard(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	l.Info("handling chassis wildcard")
	return ipmi.IPMICmpInvalid, nil
}

func (r *Router) capabilities(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	return ipmi.IPMICmpNorm, append([]byte{}, Capabilities[:]...)
}

// propString reads a string property from the object at path, resolving its service
func (r *Router) propString(path, iface, prop string) (string, error) {
	v, e := r.prop(path, iface, prop)
	if e != nil {
		return "", e
	}
	s, ok := v.(string)
	if !ok {
		return "", types.NewError(types.KindLookup, nil, "property %s on %s is %T, not a string", prop, path, v)
	}
	return s, nil
}

func (r *Router) prop(path, iface, prop string) (interface{}, error) {
	svc, e := r.store.FindService(path)
	if e != nil {
		return nil, e
	}
	return r.store.Get(svc, path, iface, prop)
}

func (r *Router) setSetting(prop, value string) error {
	svc, e := r.store.FindService(SettingsPath)
	if e != nil {
		return e
	}
	return r.store.Set(svc, SettingsPath, SettingsIface, prop, value)
}

func (r *Router) status(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	v, e := r.prop(PowerPath, PowerIface, PropPgood)
	if e != nil {
		l.WithFields(logrus.Fields{
			"path":     PowerPath,
			"property": PropPgood,
		}).WithError(e).Error("failed to read power good")
		return ipmi.IPMICmpUnspecified, nil
	}
	pgood, ok := asInt(v)
	if !ok {
		l.WithField("pgood", v).Error("power good is not an integer")
		return ipmi.IPMICmpUnspecified, nil
	}
	policy, e := r.propString(SettingsPath, SettingsIface, PropPolicy)
	if e != nil {
		l.WithFields(logrus.Fields{
			"path":     SettingsPath,
			"property": PropPolicy,
		}).WithError(e).Error("failed to read power policy")
		return ipmi.IPMICmpUnspecified, nil
	}
	p, ok := powerPolicies[policy]
	if !ok {
		p = policyUnknown
	}
	l.WithFields(logrus.Fields{
		"pgood":  pgood,
		"policy": policy,
	}).Debug("chassis status")
	// last power event, misc state and front panel are not tracked
	return ipmi.IPMICmpNorm, []byte{(p&0x3)<<5 | uint8(pgood&0x1), 0, 0, 0}
}

func (r *Router) control(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	if len(data) < 1 {
		return ipmi.IPMICmpReqLenInvalid, nil
	}
	a, ok := controlActions[data[0]]
	if !ok {
		l.WithField("control", fmt.Sprintf("0x%02x", data[0])).Error("invalid chassis control command")
		return ipmi.IPMICmpInvalid, nil
	}
	if e := r.seq.Do(a); e != nil {
		l.WithError(e).Error("chassis control failed")
		return completionCode(e), nil
	}
	return ipmi.IPMICmpNorm, nil
}

func (r *Router) getBootOptions(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	// parameter selector, set selector, block selector
	if len(data) < 3 {
		return ipmi.IPMICmpReqLenInvalid, nil
	}
	l = l.WithField("parameter", fmt.Sprintf("0x%02x", data[0]))
	switch data[0] {
	case ParamBootFlags:
		flags, e := r.propString(SettingsPath, SettingsIface, PropBootFlags)
		if e != nil {
			l.WithError(e).Error("failed to read boot flags")
			return ipmi.IPMICmpUnspecified, nil
		}
		policy, e := r.propString(SettingsPath, SettingsIface, PropBootPol)
		if e != nil {
			l.WithError(e).Error("failed to read boot policy")
			return ipmi.IPMICmpUnspecified, nil
		}
		dev, ok := BootDevice(flags)
		if !ok {
			l.WithField("boot_flags", flags).Warning("unknown boot device")
		}
		resp := make([]byte, 2+bootFlagsDataLen)
		resp[0], resp[1] = BootOptionVersion, ParamBootFlags
		resp[2] = BootFlagsPersist
		if strings.HasPrefix(policy, PolicyOneTime) {
			resp[2] = BootFlagsOneTime
		}
		resp[3] = dev << 2
		return ipmi.IPMICmpNorm, resp
	case ParamNetworkSettings:
		b, e := netsettings.Encode(r.store, l)
		if e != nil {
			return ipmi.IPMICmpUnspecified, nil
		}
		return ipmi.IPMICmpNorm, append([]byte{BootOptionVersion, ParamNetworkSettings}, b.Bytes()...)
	}
	l.Warning("unsupported boot option parameter")
	return ipmi.IPMICmpParmNotSupported, nil
}

func (r *Router) setBootOptions(data []byte, l logrus.FieldLogger) (uint8, []byte) {
	if len(data) < 1 {
		return ipmi.IPMICmpReqLenInvalid, nil
	}
	l = l.WithField("parameter", fmt.Sprintf("0x%02x", data[0]))
	param, data := data[0], data[1:]
	switch param {
	case ParamBootFlags:
		if len(data) < 2 {
			return ipmi.IPMICmpReqLenInvalid, nil
		}
		cc := ipmi.IPMICmpNorm
		sel := (data[1] & 0x3C) >> 2
		if name, ok := BootDeviceName(sel); ok {
			if e := r.setSetting(PropBootFlags, name); e != nil {
				l.WithError(e).Error("failed to set boot flags")
				cc = ipmi.IPMICmpUnspecified
			}
		} else {
			l.WithField("device", sel).Warning("unsupported boot device")
			cc = ipmi.IPMICmpParmNotSupported
		}
		// the policy is written even when the device was refused
		policy := PolicyOneTime
		if data[0]&BootFlagsPermanent == BootFlagsPermanent {
			policy = PolicyPermanent
		}
		if e := r.setSetting(PropBootPol, policy); e != nil {
			l.WithError(e).Error("failed to set boot policy")
			cc = ipmi.IPMICmpUnspecified
		}
		return cc, nil
	case ParamNetworkSettings:
		b, e := netsettings.FromBytes(data)
		if e != nil {
			l.WithError(e).Error("bad network settings")
			return ipmi.IPMICmpReqLenInvalid, nil
		}
		if e = netsettings.Apply(r.store, &b, l); e != nil {
			return ipmi.IPMICmpUnspecified, nil
		}
		return ipmi.IPMICmpNorm, nil
	}
	l.Warning("unsupported boot option parameter")
	return ipmi.IPMICmpParmNotSupported, nil
}

// completionCode picks the completion code for a failed command
func completionCode(e error) uint8 {
	if types.IsKind(e, types.KindUnsupported) {
		return ipmi.IPMICmpParmNotSupported
	}
	return ipmi.IPMICmpUnspecified
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
