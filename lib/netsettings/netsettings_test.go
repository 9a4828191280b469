package netsettings

import (
	"encoding/hex"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraken-hpc/chassisd/lib/propstore"
	"github.com/kraken-hpc/chassisd/lib/types"
)

const (
	netService = "xyz.openbmc_project.Network"
	ipPath     = "/xyz/openbmc_project/network/host0/intf/addr"
	macPath    = "/xyz/openbmc_project/network/host0/intf"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l.WithField("test", true)
}

func hostStore(origin string) *propstore.Memory {
	m := propstore.NewMemory()
	m.AddObject(netService, ipPath, IPInterface)
	m.AddObject(netService, macPath, MACInterface)
	m.Put(ipPath, IPInterface, PropAddress, "10.0.0.5")
	m.Put(ipPath, IPInterface, PropPrefix, uint8(24))
	m.Put(ipPath, IPInterface, PropGateway, "10.0.0.1")
	m.Put(ipPath, IPInterface, PropOrigin, origin)
	m.Put(ipPath, IPInterface, PropType, ProtocolIPv4)
	m.Put(macPath, MACInterface, PropMAC, "aa:bb:cc:dd:ee:ff")
	return m
}

func TestEncode(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		b, e := Encode(hostStore(OriginStatic), quietLogger())
		require.NoError(t, e)
		t.Logf("%v", hex.Dump(b[:]))
		want := []byte{
			0x80, 0x21, 0x70, 0x62, 0x21, 0x00, 0x01, 0x06, 0x04,
			0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00,
			0x01,
			10, 0, 0, 5,
			24,
			10, 0, 0, 1,
		}
		assert.Equal(t, want, b[:FieldsEnd])
		assert.Equal(t, make([]byte, Size-FieldsEnd), b[FieldsEnd:])
	})
	t.Run("dhcp", func(t *testing.T) {
		b, e := Encode(hostStore(OriginDHCP), quietLogger())
		require.NoError(t, e)
		assert.Equal(t, byte(0x00), b[AddrTypeOffset])
	})
	t.Run("lookup failure zeroes data keeps header", func(t *testing.T) {
		m := hostStore(OriginStatic)
		m.FailFind(MACInterface, errors.New("mapper down"))
		b, e := Encode(m, quietLogger())
		require.Error(t, e)
		assert.Equal(t, header[:], b[:HeaderSize])
		assert.Equal(t, make([]byte, Size-HeaderSize), b[HeaderSize:])
	})
	t.Run("missing property", func(t *testing.T) {
		m := propstore.NewMemory()
		m.AddObject(netService, ipPath, IPInterface)
		m.AddObject(netService, macPath, MACInterface)
		m.Put(macPath, MACInterface, PropMAC, "aa:bb:cc:dd:ee:ff")
		m.Put(ipPath, IPInterface, PropOrigin, OriginStatic)
		_, e := Encode(m, quietLogger())
		assert.True(t, types.IsKind(e, types.KindLookup))
	})
	t.Run("wrong property type", func(t *testing.T) {
		m := hostStore(OriginStatic)
		m.Put(ipPath, IPInterface, PropPrefix, "24")
		_, e := Encode(m, quietLogger())
		assert.True(t, types.IsKind(e, types.KindLookup))
	})
}

func TestDecode(t *testing.T) {
	t.Run("bad cookie", func(t *testing.T) {
		b := NewRequestBlob(Settings{})
		copy(b[CookieOffset:], []byte{0xde, 0xad, 0xbe, 0xef})
		_, e := Decode(&b)
		assert.True(t, types.IsKind(e, types.KindDecode))
	})
	t.Run("bad version", func(t *testing.T) {
		b := NewRequestBlob(Settings{})
		b[VersionOffset+1] = 0x02
		_, e := Decode(&b)
		assert.True(t, types.IsKind(e, types.KindDecode))
	})
	t.Run("zero cookie ignores version", func(t *testing.T) {
		b := Blob{}
		b[VersionOffset] = 0x7f
		s, e := Decode(&b)
		require.NoError(t, e)
		assert.True(t, s.Clear)
	})
	t.Run("origin polarity", func(t *testing.T) {
		b := NewRequestBlob(Settings{})
		b[AddrTypeOffset] = 0x00
		s, e := Decode(&b)
		require.NoError(t, e)
		assert.True(t, s.Static)
		b[AddrTypeOffset] = 0x01
		s, e = Decode(&b)
		require.NoError(t, e)
		assert.False(t, s.Static)
	})
}

func TestApply(t *testing.T) {
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	in := Settings{
		MAC:     mac,
		Static:  true,
		Address: net.ParseIP("10.0.0.5"),
		Prefix:  24,
		Gateway: net.ParseIP("10.0.0.1"),
	}

	t.Run("static round trip", func(t *testing.T) {
		m := hostStore(OriginDHCP)
		b := NewRequestBlob(in)
		// the request side flags Static with 0, the opposite of Encode
		assert.Equal(t, byte(0x00), b[AddrTypeOffset])
		require.NoError(t, Apply(m, &b, quietLogger()))
		assert.Equal(t, []propstore.Write{
			{Service: netService, Path: ipPath, Iface: IPInterface, Prop: PropAddress, Value: "10.0.0.5"},
			{Service: netService, Path: ipPath, Iface: IPInterface, Prop: PropPrefix, Value: uint8(24)},
			{Service: netService, Path: ipPath, Iface: IPInterface, Prop: PropOrigin, Value: OriginStatic},
			{Service: netService, Path: ipPath, Iface: IPInterface, Prop: PropGateway, Value: "10.0.0.1"},
			{Service: netService, Path: ipPath, Iface: IPInterface, Prop: PropType, Value: ProtocolIPv4},
			{Service: netService, Path: macPath, Iface: MACInterface, Prop: PropMAC, Value: "aa:bb:cc:dd:ee:ff"},
		}, m.Writes())

		out, e := Encode(m, quietLogger())
		require.NoError(t, e)
		assert.Equal(t, byte(0x01), out[AddrTypeOffset])
		s, e := Decode(&out)
		require.NoError(t, e)
		assert.Equal(t, in.MAC, s.MAC)
		assert.True(t, in.Address.Equal(s.Address))
		assert.True(t, in.Gateway.Equal(s.Gateway))
		assert.Equal(t, in.Prefix, s.Prefix)
		// an encoded Static blob reads back as DHCP
		assert.False(t, s.Static)
	})
	t.Run("dhcp", func(t *testing.T) {
		m := hostStore(OriginStatic)
		d := in
		d.Static = false
		b := NewRequestBlob(d)
		require.NoError(t, Apply(m, &b, quietLogger()))
		v, e := m.Get(netService, ipPath, IPInterface, PropOrigin)
		require.NoError(t, e)
		assert.Equal(t, OriginDHCP, v)
	})
	t.Run("clear", func(t *testing.T) {
		m := hostStore(OriginDHCP)
		b := ClearRequest()
		require.NoError(t, Apply(m, &b, quietLogger()))
		w := m.Writes()
		require.Len(t, w, 6)
		assert.Equal(t, "", w[0].Value)
		assert.Equal(t, uint8(0), w[1].Value)
		assert.Equal(t, OriginStatic, w[2].Value)
		assert.Equal(t, "", w[3].Value)
		assert.Equal(t, ProtocolIPv4, w[4].Value)
		assert.Equal(t, "", w[5].Value)
	})
	t.Run("bad cookie writes nothing", func(t *testing.T) {
		m := hostStore(OriginStatic)
		b := NewRequestBlob(in)
		b[CookieOffset] = 0x00
		b[CookieOffset+3] = 0x01
		require.Error(t, Apply(m, &b, quietLogger()))
		assert.Empty(t, m.Writes())
	})
	t.Run("failed write aborts the rest", func(t *testing.T) {
		m := hostStore(OriginStatic)
		m.FailSet(IPInterface, PropGateway, errors.New("bus timeout"))
		b := NewRequestBlob(in)
		require.Error(t, Apply(m, &b, quietLogger()))
		w := m.Writes()
		require.Len(t, w, 3)
		assert.Equal(t, PropOrigin, w[2].Prop)
	})
	t.Run("missing object", func(t *testing.T) {
		m := hostStore(OriginStatic)
		m.FailFind(IPInterface, errors.New("mapper down"))
		b := NewRequestBlob(in)
		require.Error(t, Apply(m, &b, quietLogger()))
		assert.Empty(t, m.Writes())
	})
}

func TestFromBytes(t *testing.T) {
	full := NewRequestBlob(Settings{Prefix: 8})

	b, e := FromBytes(full[:FieldsEnd])
	require.NoError(t, e)
	assert.Equal(t, full, b)

	_, e = FromBytes(full[:FieldsEnd-1])
	assert.True(t, types.IsKind(e, types.KindDecode))

	_, e = FromBytes(make([]byte, Size+1))
	assert.Error(t, e)

	_, e = FromBytes([]byte{0x00, 0x00})
	assert.Error(t, e)

	b, e = FromBytes(make([]byte, CookieOffset+CookieSize))
	require.NoError(t, e)
	s, e := Decode(&b)
	require.NoError(t, e)
	assert.True(t, s.Clear)
}

func TestFieldBounds(t *testing.T) {
	var b Blob
	assert.Panics(t, func() { b.field(Size-1, 2) })
	assert.NotPanics(t, func() { b.field(FieldsEnd-IPv4Size, IPv4Size) })
}
