package power

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraken-hpc/chassisd/lib/propstore"
	"github.com/kraken-hpc/chassisd/lib/types"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// calls records the order of downstream calls across the fakes
type calls []string

type fakeHost struct {
	calls *calls
	err   error
}

func (h *fakeHost) RequestTransition(t Transition) error {
	*h.calls = append(*h.calls, "transition "+string(t))
	return h.err
}

type fakeSoftOff struct {
	calls *calls
	err   error
}

func (s *fakeSoftOff) NotifyHostShutdown() error {
	*s.calls = append(*s.calls, "softoff")
	return s.err
}

type fakeMarker struct {
	calls *calls
	err   error
}

func (m *fakeMarker) Create() error {
	*m.calls = append(*m.calls, "marker")
	return m.err
}

type fixture struct {
	calls   calls
	host    *fakeHost
	softOff *fakeSoftOff
	marker  *fakeMarker
	seq     *Sequencer
}

func newFixture() *fixture {
	f := &fixture{}
	f.host = &fakeHost{calls: &f.calls}
	f.softOff = &fakeSoftOff{calls: &f.calls}
	f.marker = &fakeMarker{calls: &f.calls}
	f.seq = NewSequencer(f.host, f.softOff, f.marker, quietLogger())
	return f
}

func TestSequencer(t *testing.T) {
	t.Run("on", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.seq.Do(ActionOn))
		assert.Equal(t, calls{"transition " + string(TransitionOn)}, f.calls)
	})
	t.Run("off with soft off running", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.seq.Do(ActionOff))
		assert.Equal(t, calls{"softoff"}, f.calls)
	})
	t.Run("off without soft off", func(t *testing.T) {
		f := newFixture()
		f.softOff.err = errors.New("service unknown")
		require.NoError(t, f.seq.Do(ActionOff))
		assert.Equal(t, calls{"softoff", "marker", "transition " + string(TransitionOff)}, f.calls)
	})
	for _, a := range []Action{ActionHardReset, ActionPowerCycle} {
		a := a
		t.Run(a.String(), func(t *testing.T) {
			f := newFixture()
			require.NoError(t, f.seq.Do(a))
			assert.Equal(t, calls{"marker", "transition " + string(TransitionReboot)}, f.calls)
		})
	}
	t.Run("unsupported", func(t *testing.T) {
		f := newFixture()
		e := f.seq.Do(Action(9))
		assert.True(t, types.IsKind(e, types.KindUnsupported))
		assert.Empty(t, f.calls)
	})
	t.Run("transition failure", func(t *testing.T) {
		f := newFixture()
		f.host.err = types.NewError(types.KindDownstream, nil, "host state")
		assert.Error(t, f.seq.Do(ActionPowerCycle))
		assert.Equal(t, calls{"marker", "transition " + string(TransitionReboot)}, f.calls)
	})
	t.Run("marker failure", func(t *testing.T) {
		f := newFixture()
		f.marker.err = errors.New("read-only file system")
		e := f.seq.Do(ActionHardReset)
		assert.True(t, types.IsKind(e, types.KindDownstream))
		assert.Equal(t, calls{"marker"}, f.calls)
	})
}

func TestSequencerOverStore(t *testing.T) {
	m := propstore.NewMemory()
	m.AddObject("xyz.openbmc_project.State.Host", HostStatePath, HostStateIface)
	marker := Marker{Dir: filepath.Join(t.TempDir(), "openbmc"), File: DefaultMarkerFile}
	seq := NewSequencer(NewBusHostState(m), NewBusSoftOff(m, "", ""), marker, quietLogger())

	// no soft-off object: the notify fails and we power off directly
	require.NoError(t, seq.Do(ActionOff))
	assert.True(t, marker.Exists())
	assert.Equal(t, []propstore.Write{{
		Service: "xyz.openbmc_project.State.Host",
		Path:    HostStatePath,
		Iface:   HostStateIface,
		Prop:    PropRequested,
		Value:   string(TransitionOff),
	}}, m.Writes())

	require.NoError(t, os.Remove(marker.Path()))
	m.ResetWrites()
	m.AddObject(DefaultSoftOffService, DefaultSoftOffPath, SoftOffIface)
	require.NoError(t, seq.Do(ActionOff))
	assert.False(t, marker.Exists())
	assert.Equal(t, []propstore.Write{{
		Service: DefaultSoftOffService,
		Path:    DefaultSoftOffPath,
		Iface:   SoftOffIface,
		Prop:    PropResponseReceived,
		Value:   HostShutdownResponse,
	}}, m.Writes())

	m.FailService(HostStatePath, errors.New("mapper down"))
	e := seq.Do(ActionOn)
	assert.True(t, types.IsKind(e, types.KindDownstream))
}

func TestMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run", "openbmc")
	m := Marker{Dir: dir, File: DefaultMarkerFile, Host: 0}
	assert.Equal(t, filepath.Join(dir, "host@0-request"), m.Path())
	assert.False(t, m.Exists())
	require.NoError(t, m.Create())
	assert.True(t, m.Exists())
	// creating again is harmless
	require.NoError(t, m.Create())

	m.Host = 3
	assert.Equal(t, filepath.Join(dir, "host@3-request"), m.Path())
}

func TestMarkerWatcher(t *testing.T) {
	m := Marker{Dir: filepath.Join(t.TempDir(), "openbmc"), File: DefaultMarkerFile}
	w, e := NewMarkerWatcher(m, quietLogger())
	require.NoError(t, e)
	w.Events = make(chan MarkerEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	next := func() MarkerEvent {
		select {
		case ev := <-w.Events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for a marker event")
		}
		return 0
	}

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir, "other"), nil, 0644))
	require.NoError(t, m.Create())
	assert.Equal(t, MarkerCreated, next())
	require.NoError(t, os.Remove(m.Path()))
	assert.Equal(t, MarkerRemoved, next())
}
