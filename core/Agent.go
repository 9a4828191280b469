/* Agent.go: assembles and runs the chassis agent
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/sirupsen/logrus"

	"github.com/kraken-hpc/chassisd/lib/chassis"
	"github.com/kraken-hpc/chassisd/lib/ipmi"
	"github.com/kraken-hpc/chassisd/lib/power"
	"github.com/kraken-hpc/chassisd/lib/propstore"
	"github.com/kraken-hpc/chassisd/lib/sensor"
	"github.com/kraken-hpc/chassisd/lib/types"
)

// Agent owns every long lived component
type Agent struct {
	cfg     *Config
	log     logrus.FieldLogger
	store   types.PropertyStore
	closer  func() error
	table   *sensor.StatsTable
	seq     *power.Sequencer
	router  *chassis.Router
	server  *ipmi.Server
	stats   *StatsAPI
	watcher *power.MarkerWatcher
}

// NewAgent opens the configured property store and builds the agent on it
func NewAgent(cfg *Config, log logrus.FieldLogger) (*Agent, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	store, closer, e := openStore(cfg, log)
	if e != nil {
		return nil, e
	}
	a, e := NewAgentWithStore(cfg, store, log)
	if e != nil {
		closer()
		return nil, e
	}
	a.closer = closer
	return a, nil
}

// NewAgentWithStore builds the agent on an already open store
func NewAgentWithStore(cfg *Config, store types.PropertyStore, log logrus.FieldLogger) (*Agent, error) {
	a := &Agent{
		cfg:    cfg,
		log:    log,
		store:  store,
		closer: func() error { return nil },
	}
	a.table = sensor.NewStatsTable(cfg.Instrumentation, ModuleLogger(log, "sensor"))
	marker := cfg.Marker()
	a.seq = power.NewSequencer(
		power.NewBusHostState(store),
		power.NewBusSoftOff(store, cfg.SoftOff.Service, cfg.SoftOff.Path),
		marker,
		ModuleLogger(log, "power"),
	)
	a.router = chassis.NewRouter(store, a.seq, ModuleLogger(log, "chassis"))
	a.server = ipmi.NewServer(cfg.Listen, a.router, ModuleLogger(log, "ipmi"))
	if cfg.StatsListen != "" {
		a.stats = NewStatsAPI(cfg.StatsListen, a.table, ModuleLogger(log, "statsapi"))
	}
	if cfg.WatchMarker {
		w, e := power.NewMarkerWatcher(marker, ModuleLogger(log, "marker"))
		if e != nil {
			return nil, e
		}
		a.watcher = w
	}
	return a, nil
}

func openStore(cfg *Config, log logrus.FieldLogger) (types.PropertyStore, func() error, error) {
	switch cfg.Store {
	case StoreDBus:
		b, e := propstore.ConnectBus()
		if e != nil {
			return nil, nil, e
		}
		return b, b.Close, nil
	case StoreBolt:
		b, e := propstore.OpenBolt(cfg.BoltPath, 5*time.Second)
		if e != nil {
			return nil, nil, e
		}
		if e = SeedBolt(b); e != nil {
			b.Close()
			return nil, nil, e
		}
		log.WithField("path", cfg.BoltPath).Info("using bolt property store")
		return b, b.Close, nil
	case StoreMemory:
		m := propstore.NewMemory()
		SeedMemory(m)
		log.Warning("using in-memory property store, nothing will persist")
		return m, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store: %s", cfg.Store)
}

// Stats is the agent's sensor stats table
func (a *Agent) Stats() *sensor.StatsTable { return a.table }

// Listen binds the IPMI listener; Run calls it if needed
func (a *Agent) Listen() error { return a.server.Listen() }

// LocalAddr is the bound IPMI address, valid after Listen
func (a *Agent) LocalAddr() net.Addr { return a.server.LocalAddr() }

// Run serves until ctx is done, then releases the store
func (a *Agent) Run(ctx context.Context) error {
	defer a.closer()
	if a.server.LocalAddr() == nil {
		if e := a.Listen(); e != nil {
			return e
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watcher.Run(ctx)
		}()
	}
	if a.stats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e := a.stats.Serve(ctx); e != nil {
				a.log.WithError(e).Error("stats api failed")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.watchdog(ctx)
	}()

	a.notify(daemon.SdNotifyReady)
	e := a.server.Serve(ctx)
	a.notify(daemon.SdNotifyStopping)
	cancel()
	wg.Wait()
	return e
}

func (a *Agent) notify(state string) {
	if ok, e := daemon.SdNotify(false, state); e != nil {
		a.log.WithError(e).Warning("systemd notify failed")
	} else if ok {
		a.log.WithField("state", state).Debug("notified systemd")
	}
}

// watchdog pings the systemd watchdog at half its interval, if it is enabled
func (a *Agent) watchdog(ctx context.Context) {
	interval, e := daemon.SdWatchdogEnabled(false)
	if e != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}
