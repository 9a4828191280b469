/* power.go: sequences chassis power actions against the host state and soft-off services
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

// Package power turns chassis control requests into host state transitions,
// coordinating with an optional soft power-off service through a marker file.
package power

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kraken-hpc/chassisd/lib/types"
)

// Action is a requested chassis power action
type Action uint8

const (
	ActionOn Action = iota
	ActionOff
	ActionHardReset
	ActionPowerCycle
)

var ActionString = map[Action]string{
	ActionOn:         "on",
	ActionOff:        "off",
	ActionHardReset:  "hard reset",
	ActionPowerCycle: "power cycle",
}

func (a Action) String() string {
	if s, ok := ActionString[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Transition is a host state the host state service can be asked to reach
type Transition string

const (
	TransitionOn     Transition = "xyz.openbmc_project.State.Host.Transition.On"
	TransitionOff    Transition = "xyz.openbmc_project.State.Host.Transition.Off"
	TransitionReboot Transition = "xyz.openbmc_project.State.Host.Transition.Reboot"
)

// Host state object
const (
	HostStatePath  = "/xyz/openbmc_project/state/host0"
	HostStateIface = "xyz.openbmc_project.State.Host"
	PropRequested  = "RequestedHostTransition"
)

// Soft-off service
const (
	DefaultSoftOffService = "xyz.openbmc_project.Ipmi.Internal.SoftPowerOff"
	DefaultSoftOffPath    = "/xyz/openbmc_project/ipmi/internal/soft_power_off"
	SoftOffIface          = "xyz.openbmc_project.Ipmi.Internal.SoftPowerOff"
	PropResponseReceived  = "ResponseReceived"
	HostShutdownResponse  = "xyz.openbmc_project.Ipmi.Internal.SoftPowerOff.HostResponse.HostShutdown"
)

// A HostState requests host transitions
type HostState interface {
	RequestTransition(Transition) error
}

// A SoftOff tells the soft power-off service that the host acknowledged shutdown
type SoftOff interface {
	NotifyHostShutdown() error
}

// A MarkerCreator creates the no-soft-off marker
type MarkerCreator interface {
	Create() error
}

var _ HostState = (*BusHostState)(nil)
var _ SoftOff = (*BusSoftOff)(nil)

// BusHostState requests transitions through the property store
type BusHostState struct {
	store types.PropertyStore
}

func NewBusHostState(store types.PropertyStore) *BusHostState {
	return &BusHostState{store: store}
}

func (h *BusHostState) RequestTransition(t Transition) error {
	svc, e := h.store.FindService(HostStatePath)
	if e != nil {
		return types.NewError(types.KindDownstream, e, "find host state service")
	}
	if e = h.store.Set(svc, HostStatePath, HostStateIface, PropRequested, string(t)); e != nil {
		return types.NewError(types.KindDownstream, e, "request host transition %s", t)
	}
	return nil
}

// BusSoftOff signals the soft-off service at a fixed service and path; no mapper lookup is done
type BusSoftOff struct {
	store   types.PropertyStore
	service string
	path    string
}

func NewBusSoftOff(store types.PropertyStore, service, path string) *BusSoftOff {
	if service == "" {
		service = DefaultSoftOffService
	}
	if path == "" {
		path = DefaultSoftOffPath
	}
	return &BusSoftOff{store: store, service: service, path: path}
}

func (s *BusSoftOff) NotifyHostShutdown() error {
	if e := s.store.Set(s.service, s.path, SoftOffIface, PropResponseReceived, HostShutdownResponse); e != nil {
		return types.NewError(types.KindDownstream, e, "notify soft power off")
	}
	return nil
}

// Sequencer decides which transition to request and when to drop the marker.
// It keeps no state between calls.
type Sequencer struct {
	host    HostState
	softOff SoftOff
	marker  MarkerCreator
	log     logrus.FieldLogger
}

func NewSequencer(host HostState, softOff SoftOff, marker MarkerCreator, log logrus.FieldLogger) *Sequencer {
	return &Sequencer{
		host:    host,
		softOff: softOff,
		marker:  marker,
		log:     log,
	}
}

// Do carries out a; it blocks on every downstream call and never retries
func (s *Sequencer) Do(a Action) error {
	l := s.log.WithField("action", a.String())
	switch a {
	case ActionOn:
		return s.request(TransitionOn, l)
	case ActionOff:
		// success means the soft-off service owns the shutdown from here
		e := s.softOff.NotifyHostShutdown()
		if e == nil {
			l.Info("soft power off in progress, leaving shutdown to it")
			return nil
		}
		l.WithError(e).Debug("no soft power off in progress")
		if e = s.createMarker(l); e != nil {
			return e
		}
		return s.request(TransitionOff, l)
	case ActionHardReset, ActionPowerCycle:
		if e := s.createMarker(l); e != nil {
			return e
		}
		return s.request(TransitionReboot, l)
	}
	e := types.NewError(types.KindUnsupported, nil, "power %s", a)
	l.WithError(e).Error("unsupported power action")
	return e
}

func (s *Sequencer) createMarker(l logrus.FieldLogger) error {
	if e := s.marker.Create(); e != nil {
		l.WithError(e).Error("failed to create no soft off marker")
		return types.NewError(types.KindDownstream, e, "create no soft off marker")
	}
	return nil
}

func (s *Sequencer) request(t Transition, l logrus.FieldLogger) error {
	l = l.WithField("request", string(t))
	if e := s.host.RequestTransition(t); e != nil {
		l.WithError(e).Error("failed to request host transition")
		return e
	}
	l.Info("requested host transition")
	return nil
}
