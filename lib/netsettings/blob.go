/* blob.go: the OPAL network settings boot option layout
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

// Package netsettings packs and unpacks the host network configuration
// carried in the "OPAL network settings" system boot option parameter.
package netsettings

import (
	"bytes"
	"fmt"
	"net"

	"github.com/kraken-hpc/chassisd/lib/types"
)

// Blob layout. Offsets are fixed and never reordered.
const (
	Size = 50

	HeaderSize     = 9
	CookieOffset   = 1
	CookieSize     = 4
	VersionOffset  = 5
	VersionSize    = 2
	MACOffset      = 9
	MACSize        = 6
	MACPadOffset   = MACOffset + MACSize
	AddrTypeOffset = 16
	IPAddrOffset   = 17
	IPv4Size       = 4
	PrefixOffset   = 21
	GatewayOffset  = 22

	// FieldsEnd is one past the last byte any field occupies
	FieldsEnd = GatewayOffset + IPv4Size
)

// fails to compile if the fields outgrow the blob
const _ uint = Size - FieldsEnd

// header is always emitted verbatim on encode
var header = [HeaderSize]byte{0x80, 0x21, 0x70, 0x62, 0x21, 0x00, 0x01, 0x06, 0x04}

var zeroCookie [CookieSize]byte

// A Blob is one OPAL network settings parameter
type Blob [Size]byte

// field returns the n bytes at off, panicking if that reaches past the blob
func (b *Blob) field(off, n int) []byte {
	if off < 0 || n < 0 || off+n > len(b) {
		panic(fmt.Sprintf("netsettings: field [%d:%d] is outside the %d byte blob", off, off+n, len(b)))
	}
	return b[off : off+n]
}

func (b *Blob) byteAt(off int) byte { return b.field(off, 1)[0] }

func (b *Blob) setByte(off int, v byte) { b.field(off, 1)[0] = v }

func (b *Blob) writeHeader() { copy(b.field(0, HeaderSize), header[:]) }

// zeroData clears the whole data region, header included
func (b *Blob) zeroData() {
	d := b.field(0, Size)
	for i := range d {
		d[i] = 0
	}
}

func (b *Blob) putIPv4(off int, ip net.IP) {
	f := b.field(off, IPv4Size)
	if ip4 := ip.To4(); ip4 != nil {
		copy(f, ip4)
		return
	}
	copy(f, net.IPv4zero.To4())
}

func (b *Blob) ipv4(off int) net.IP {
	ip := make(net.IP, IPv4Size)
	copy(ip, b.field(off, IPv4Size))
	return ip
}

// put writes the settings fields; origin is the already-encoded origin byte
func (b *Blob) put(s Settings, origin byte) {
	mac := b.field(MACOffset, MACSize)
	if len(s.MAC) == MACSize {
		copy(mac, s.MAC)
	} else {
		copy(mac, make([]byte, MACSize))
	}
	b.setByte(MACPadOffset, 0x00)
	b.setByte(AddrTypeOffset, origin)
	b.putIPv4(IPAddrOffset, s.Address)
	b.setByte(PrefixOffset, s.Prefix)
	b.putIPv4(GatewayOffset, s.Gateway)
}

// Cookie returns a copy of the cookie bytes
func (b *Blob) Cookie() []byte {
	return append([]byte{}, b.field(CookieOffset, CookieSize)...)
}

// Bytes returns the blob as a slice
func (b *Blob) Bytes() []byte {
	return append([]byte{}, b[:]...)
}

// FromBytes copies inbound parameter data into a Blob.
// Missing trailing bytes are zero. A blob that is not a clear request must
// reach at least FieldsEnd.
func FromBytes(data []byte) (b Blob, e error) {
	if len(data) > Size {
		return b, types.NewError(types.KindDecode, nil, "network settings: %d bytes exceeds the %d byte parameter", len(data), Size)
	}
	if len(data) < CookieOffset+CookieSize {
		return b, types.NewError(types.KindDecode, nil, "network settings: %d bytes is too short for a cookie", len(data))
	}
	copy(b[:], data)
	if !bytes.Equal(b.field(CookieOffset, CookieSize), zeroCookie[:]) && len(data) < FieldsEnd {
		return b, types.NewError(types.KindDecode, nil, "network settings: %d bytes is too short, need %d", len(data), FieldsEnd)
	}
	return
}
