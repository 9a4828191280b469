package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraken-hpc/chassisd/lib/chassis"
	"github.com/kraken-hpc/chassisd/lib/ipmi"
	"github.com/kraken-hpc/chassisd/lib/netsettings"
	"github.com/kraken-hpc/chassisd/lib/power"
	"github.com/kraken-hpc/chassisd/lib/propstore"
	"github.com/kraken-hpc/chassisd/lib/sensor"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, e := NewLogger(&buf, "DEBUG")
	require.NoError(t, e)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	ModuleLogger(l, "chassis").Info("hello")
	assert.Contains(t, buf.String(), "module=chassis")
	assert.Contains(t, buf.String(), "msg=hello")

	lv, e := ParseLevel("ddebug")
	require.NoError(t, e)
	assert.Equal(t, logrus.TraceLevel, lv)
	_, e = NewLogger(&buf, "loud")
	assert.Error(t, e)
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := DefaultConfig()
		require.NoError(t, c.Validate())
		assert.Equal(t, "/run/openbmc/host@0-request", c.Marker().Path())
		assert.False(t, c.Instrumentation)
	})
	t.Run("validate", func(t *testing.T) {
		for name, mod := range map[string]func(*Config){
			"store":        func(c *Config) { c.Store = "etcd" },
			"no verb":      func(c *Config) { c.InbandRequestFile = "host-request" },
			"two verbs":    func(c *Config) { c.InbandRequestFile = "host@%d-%d" },
			"string verb":  func(c *Config) { c.InbandRequestFile = "host@%s" },
			"host index":   func(c *Config) { c.HostIndex = -1 },
			"log level":    func(c *Config) { c.LogLevel = "chatty" },
			"bolt no path": func(c *Config) { c.Store = StoreBolt; c.BoltPath = "" },
		} {
			c := DefaultConfig()
			mod(c)
			assert.Error(t, c.Validate(), name)
		}
		c := DefaultConfig()
		c.InbandRequestFile = "100%%-host%d"
		assert.NoError(t, c.Validate())
	})
	t.Run("file and flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chassisd.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte(strings.Join([]string{
			"log_level: debug",
			"store: memory",
			"host_index: 2",
			"instrumentation: true",
			"softoff:",
			"  service: org.example.SoftOff",
		}, "\n")), 0644))

		c, e := ParseFlags("chassisd", []string{"-c", path, "--host-index", "1", "--listen", "127.0.0.1:1623"})
		require.NoError(t, e)
		assert.Equal(t, "debug", c.LogLevel)
		assert.Equal(t, StoreMemory, c.Store)
		assert.Equal(t, 1, c.HostIndex)
		assert.Equal(t, "127.0.0.1:1623", c.Listen)
		assert.True(t, c.Instrumentation)
		assert.Equal(t, "org.example.SoftOff", c.SoftOff.Service)
		assert.Equal(t, power.DefaultSoftOffPath, c.SoftOff.Path)

		out, e := c.YAML()
		require.NoError(t, e)
		assert.Contains(t, string(out), "host_index: 1")
	})
	t.Run("bad file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("listen_port: 623\n"), 0644))
		_, e := LoadConfig(path)
		assert.Error(t, e)
		_, e = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, e)
	})
}

func TestStatsAPI(t *testing.T) {
	table := sensor.NewStatsTable(true, quietLogger())
	table.UpdateReading(1, 42.0, 0x2a)
	srv := httptest.NewServer(NewStatsAPI("", table, quietLogger()).Handler())
	defer srv.Close()

	do := func(method, path, body string) *http.Response {
		req, e := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, e)
		rsp, e := http.DefaultClient.Do(req)
		require.NoError(t, e)
		return rsp
	}

	rsp := do("GET", "/sensors", "")
	var all []SensorJSON
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&all))
	rsp.Body.Close()
	require.Len(t, all, 2)
	assert.Equal(t, "0x00", all[0].Name)
	assert.Equal(t, 1, all[1].Index)
	assert.Equal(t, 42.0, all[1].Max)

	rsp = do("GET", "/sensors/1", "")
	var one SensorJSON
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&one))
	rsp.Body.Close()
	assert.Equal(t, 1, one.Readings)

	rsp = do("GET", "/sensors/9", "")
	rsp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	assert.Equal(t, 2, table.Len())

	rsp = do("PUT", "/sensors/4/name", "PSU0 Power\n")
	rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "PSU0 Power", table.Name(4))

	rsp = do("PUT", "/sensors/4/name", "  ")
	rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	rsp = do("PUT", "/sensors/4/name", strings.Repeat("x", 100))
	rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp = do("DELETE", "/sensors", "")
	rsp.Body.Close()
	assert.Equal(t, http.StatusNoContent, rsp.StatusCode)
	assert.Equal(t, 0, table.Len())

	rsp = do("GET", "/sensors/abc", "")
	rsp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestStatsAPIServe(t *testing.T) {
	table := sensor.NewStatsTable(false, quietLogger())
	api := NewStatsAPI("", table, quietLogger())
	l, e := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, e)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- api.serve(ctx, l) }()

	rsp, e := http.Get("http://" + l.Addr().String() + "/sensors")
	require.NoError(t, e)
	rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	cancel()
	select {
	case e := <-done:
		assert.NoError(t, e)
	case <-time.After(5 * time.Second):
		t.Fatal("stats api did not stop")
	}
}

func startAgent(t *testing.T) (*ipmi.Client, *propstore.Memory, *Config) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.StatsListen = ""
	cfg.Store = StoreMemory
	cfg.InbandRequestDir = filepath.Join(t.TempDir(), "openbmc")
	m := propstore.NewMemory()
	SeedMemory(m)

	a, e := NewAgentWithStore(cfg, m, quietLogger())
	require.NoError(t, e)
	require.NoError(t, a.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	c := ipmi.NewClient(a.LocalAddr().(*net.UDPAddr))
	c.Timeout = 2 * time.Second
	require.NoError(t, c.Dial())
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c, m, cfg
}

func TestAgent(t *testing.T) {
	c, m, cfg := startAgent(t)

	t.Run("status", func(t *testing.T) {
		cc, d, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdChassisStatus, nil)
		require.NoError(t, e)
		assert.Equal(t, ipmi.IPMICmpNorm, cc)
		assert.Equal(t, []byte{0x00, 0, 0, 0}, d)
	})
	t.Run("power off without soft off", func(t *testing.T) {
		cc, _, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdChassisCtl, []byte{ipmi.IPMIChassisCtlDown})
		require.NoError(t, e)
		assert.Equal(t, ipmi.IPMICmpNorm, cc)
		_, e = os.Stat(cfg.Marker().Path())
		assert.NoError(t, e)
		v, _ := m.Get(SimHostService, power.HostStatePath, power.HostStateIface, power.PropRequested)
		assert.Equal(t, string(power.TransitionOff), v)
	})
	t.Run("power on", func(t *testing.T) {
		cc, _, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdChassisCtl, []byte{ipmi.IPMIChassisCtlUp})
		require.NoError(t, e)
		assert.Equal(t, ipmi.IPMICmpNorm, cc)
		v, _ := m.Get(SimHostService, power.HostStatePath, power.HostStateIface, power.PropRequested)
		assert.Equal(t, string(power.TransitionOn), v)
	})
	t.Run("boot device", func(t *testing.T) {
		cc, _, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdSetSysBootOptions, []byte{chassis.ParamBootFlags, 0xC0, 0x05 << 2})
		require.NoError(t, e)
		assert.Equal(t, ipmi.IPMICmpNorm, cc)
		cc, d, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdGetSysBootOptions, []byte{chassis.ParamBootFlags, 0, 0})
		require.NoError(t, e)
		assert.Equal(t, ipmi.IPMICmpNorm, cc)
		assert.Equal(t, []byte{0x01, 0x05, 0xC0, 0x05 << 2, 0, 0, 0}, d)
	})
	t.Run("network settings", func(t *testing.T) {
		blob := netsettings.NewRequestBlob(netsettings.Settings{
			MAC:     net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
			Static:  true,
			Address: net.ParseIP("172.16.0.10"),
			Prefix:  12,
			Gateway: net.ParseIP("172.16.0.1"),
		})
		cc, _, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdSetSysBootOptions,
			append([]byte{chassis.ParamNetworkSettings}, blob.Bytes()...))
		require.NoError(t, e)
		require.Equal(t, ipmi.IPMICmpNorm, cc)

		cc, d, e := c.Send(ipmi.IPMIFnChassisReq, ipmi.IPMICmdGetSysBootOptions, []byte{chassis.ParamNetworkSettings, 0, 0})
		require.NoError(t, e)
		require.Equal(t, ipmi.IPMICmpNorm, cc)
		got, e := netsettings.FromBytes(d[2:])
		require.NoError(t, e)
		s, e := netsettings.Decode(&got)
		require.NoError(t, e)
		assert.Equal(t, "52:54:00:12:34:56", s.MAC.String())
		assert.Equal(t, "172.16.0.10", s.Address.String())
		assert.Equal(t, uint8(12), s.Prefix)
	})
}

func TestSeedBolt(t *testing.T) {
	b, e := propstore.OpenBolt(filepath.Join(t.TempDir(), "props.db"), time.Second)
	require.NoError(t, e)
	defer b.Close()
	require.NoError(t, SeedBolt(b))
	require.NoError(t, b.Set(SimPowerService, chassis.PowerPath, chassis.PowerIface, chassis.PropPgood, int32(1)))
	// a second seed keeps what is there
	require.NoError(t, SeedBolt(b))
	v, e := b.Get(SimPowerService, chassis.PowerPath, chassis.PowerIface, chassis.PropPgood)
	require.NoError(t, e)
	assert.Equal(t, int32(1), v)
	o, e := b.FindObject(netsettings.MACInterface, "/", "host0")
	require.NoError(t, e)
	assert.Equal(t, SimMACPath, o.Path)
}
