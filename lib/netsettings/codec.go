/* codec.go: move network settings between the property store and a Blob
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package netsettings

import (
	"bytes"
	"fmt"
	"net"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/kraken-hpc/chassisd/lib/types"
)

// Host network objects on the property bus
const (
	SettingsRoot  = "/"
	SettingsMatch = "host0"

	IPInterface  = "xyz.openbmc_project.Network.IP"
	MACInterface = "xyz.openbmc_project.Network.MACAddress"

	PropAddress = "Address"
	PropPrefix  = "PrefixLength"
	PropOrigin  = "Origin"
	PropGateway = "Gateway"
	PropType    = "Type"
	PropMAC     = "MACAddress"

	OriginStatic = "xyz.openbmc_project.Network.IP.AddressOrigin.Static"
	OriginDHCP   = "xyz.openbmc_project.Network.IP.AddressOrigin.DHCP"
	ProtocolIPv4 = "xyz.openbmc_project.Network.IP.Protocol.IPv4"
)

// Settings is the structured form of a Blob
type Settings struct {
	MAC     net.HardwareAddr
	Static  bool
	Address net.IP
	Prefix  uint8
	Gateway net.IP

	// Clear is set when the blob carried an all-zero cookie
	Clear bool
}

/*
 * Origin byte polarity differs by direction and both are kept as-is:
 * the get path writes 1 for Static, the set path reads non-zero as DHCP.
 */

func encodeOrigin(static bool) byte {
	if static {
		return 1
	}
	return 0
}

func requestOrigin(static bool) byte {
	if static {
		return 0
	}
	return 1
}

func decodeStatic(b byte) bool { return b == 0 }

// Encode reads the live host network configuration and packs it for a
// Get System Boot Options response. On any lookup failure the data region
// is zeroed and the error returned; the canonical header is written either way.
func Encode(store types.PropertyStore, log logrus.FieldLogger) (b Blob, e error) {
	var s Settings
	if s, e = load(store, log); e != nil {
		log.WithError(e).Error("failed to read host network settings")
		b.zeroData()
	} else {
		b.put(s, encodeOrigin(s.Static))
	}
	b.writeHeader()
	return
}

// NewRequestBlob packs s the way a Set System Boot Options requester does,
// so Apply decodes it back to s. Use ClearRequest to ask for a reset.
func NewRequestBlob(s Settings) (b Blob) {
	b.writeHeader()
	b.put(s, requestOrigin(s.Static))
	return
}

// ClearRequest is a blob carrying the all-zero cookie
func ClearRequest() Blob { return Blob{} }

// Decode validates an inbound blob and extracts its settings
func Decode(b *Blob) (s Settings, e error) {
	cookie := b.field(CookieOffset, CookieSize)
	if !bytes.Equal(cookie, header[CookieOffset:CookieOffset+CookieSize]) {
		if bytes.Equal(cookie, zeroCookie[:]) {
			return Settings{Clear: true, Static: true}, nil
		}
		return s, types.NewError(types.KindDecode, nil, "invalid cookie %x", cookie)
	}
	if v := b.field(VersionOffset, VersionSize); !bytes.Equal(v, header[VersionOffset:VersionOffset+VersionSize]) {
		return s, types.NewError(types.KindDecode, nil, "invalid version %x", v)
	}
	s.MAC = append(net.HardwareAddr{}, b.field(MACOffset, MACSize)...)
	s.Static = decodeStatic(b.byteAt(AddrTypeOffset))
	s.Address = b.ipv4(IPAddrOffset)
	s.Prefix = b.byteAt(PrefixOffset)
	s.Gateway = b.ipv4(GatewayOffset)
	return
}

// write is one property write issued by Apply
type write struct {
	obj   types.ObjectInfo
	iface string
	prop  string
	value interface{}
}

// Apply decodes b and pushes the result to the property store.
// The first failed write aborts the rest; earlier writes are not rolled back.
func Apply(store types.PropertyStore, b *Blob, log logrus.FieldLogger) error {
	s, e := Decode(b)
	if e != nil {
		log.WithError(e).Error("rejecting network settings")
		return e
	}

	address, gateway, mac, origin := "", "", "", OriginStatic
	if !s.Clear {
		address, gateway, mac = s.Address.String(), s.Gateway.String(), s.MAC.String()
		if !s.Static {
			origin = OriginDHCP
		}
	}
	log.WithField("networkconfig", fmt.Sprintf("ipaddress=%s,prefix=%d,gateway=%s,mac=%s,addressOrigin=%s",
		address, s.Prefix, gateway, mac, origin)).Debug("network configuration changed")
	if l, ok := log.(*logrus.Entry); ok && l.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.Debug(spew.Sdump(s))
	}

	ip, e := findObject(store, IPInterface, log)
	if e != nil {
		return e
	}
	hw, e := findObject(store, MACInterface, log)
	if e != nil {
		return e
	}

	writes := []write{
		{ip, IPInterface, PropAddress, address},
		{ip, IPInterface, PropPrefix, s.Prefix},
		{ip, IPInterface, PropOrigin, origin},
		{ip, IPInterface, PropGateway, gateway},
		{ip, IPInterface, PropType, ProtocolIPv4},
		{hw, MACInterface, PropMAC, mac},
	}
	for _, w := range writes {
		if e := store.Set(w.obj.Service, w.obj.Path, w.iface, w.prop, w.value); e != nil {
			log.WithFields(logrus.Fields{
				"property":  w.prop,
				"path":      w.obj.Path,
				"interface": w.iface,
			}).WithError(e).Error("failed to set property")
			return e
		}
	}
	return nil
}

func findObject(store types.PropertyStore, iface string, log logrus.FieldLogger) (types.ObjectInfo, error) {
	o, e := store.FindObject(iface, SettingsRoot, SettingsMatch)
	if e != nil {
		log.WithFields(logrus.Fields{
			"interface": iface,
			"match":     SettingsMatch,
		}).WithError(e).Error("failed to find host network object")
	}
	return o, e
}

// load reads the current settings from the property store
func load(store types.PropertyStore, log logrus.FieldLogger) (s Settings, e error) {
	ip, e := findObject(store, IPInterface, log)
	if e != nil {
		return
	}
	hw, e := findObject(store, MACInterface, log)
	if e != nil {
		return
	}
	props, e := store.GetAll(ip.Service, ip.Path, IPInterface)
	if e != nil {
		return
	}
	macv, e := store.Get(hw.Service, hw.Path, MACInterface, PropMAC)
	if e != nil {
		return
	}
	macs, ok := macv.(string)
	if !ok {
		return s, types.NewError(types.KindLookup, nil, "property %s on %s is %T, not a string", PropMAC, hw.Path, macv)
	}
	if s.MAC, e = net.ParseMAC(macs); e != nil || len(s.MAC) != MACSize {
		log.WithField("mac", macs).Debug("unparseable MAC address, sending zeros")
		s.MAC, e = nil, nil
	}

	var origin, address, gateway string
	if origin, e = propString(props, PropOrigin, ip.Path); e != nil {
		return
	}
	s.Static = origin == OriginStatic
	if address, e = propString(props, PropAddress, ip.Path); e != nil {
		return
	}
	s.Address = net.ParseIP(address)
	if s.Prefix, e = propUint8(props, PropPrefix, ip.Path); e != nil {
		return
	}
	if gateway, e = propString(props, PropGateway, ip.Path); e != nil {
		return
	}
	s.Gateway = net.ParseIP(gateway)
	return
}

func propString(props types.PropertyMap, name, path string) (string, error) {
	v, ok := props[name]
	if !ok {
		return "", types.NewError(types.KindLookup, nil, "property %s missing on %s", name, path)
	}
	s, ok := v.(string)
	if !ok {
		return "", types.NewError(types.KindLookup, nil, "property %s on %s is %T, not a string", name, path, v)
	}
	return s, nil
}

func propUint8(props types.PropertyMap, name, path string) (uint8, error) {
	v, ok := props[name]
	if !ok {
		return 0, types.NewError(types.KindLookup, nil, "property %s missing on %s", name, path)
	}
	switch n := v.(type) {
	case uint8:
		return n, nil
	case int:
		if n >= 0 && n <= 0xff {
			return uint8(n), nil
		}
	case int32:
		if n >= 0 && n <= 0xff {
			return uint8(n), nil
		}
	case uint32:
		if n <= 0xff {
			return uint8(n), nil
		}
	case int64:
		if n >= 0 && n <= 0xff {
			return uint8(n), nil
		}
	}
	return 0, types.NewError(types.KindLookup, nil, "property %s on %s is not a byte: %v", name, path, v)
}
