/* marker.go: the no-soft-off marker file and a watcher for it
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package power

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMarkerDir  = "/run/openbmc/"
	DefaultMarkerFile = "host@%d-request"
)

var _ MarkerCreator = (*Marker)(nil)

// Marker is the file whose presence tells the soft-off service not to run.
// We only ever create it; the soft-off service removes it.
type Marker struct {
	Dir  string
	File string // template formatted with Host
	Host int
}

// Path is the full marker path
func (m Marker) Path() string {
	return filepath.Join(m.Dir, fmt.Sprintf(m.File, m.Host))
}

// Create makes Dir if it is missing, then creates (or truncates) the marker
func (m Marker) Create() error {
	if e := os.MkdirAll(m.Dir, 0755); e != nil {
		return e
	}
	f, e := os.OpenFile(m.Path(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if e != nil {
		return e
	}
	return f.Close()
}

// Exists reports whether the marker is currently present
func (m Marker) Exists() bool {
	_, e := os.Stat(m.Path())
	return e == nil
}

// MarkerEvent is what the watcher saw happen to the marker
type MarkerEvent uint8

const (
	MarkerCreated MarkerEvent = iota
	MarkerRemoved
)

func (e MarkerEvent) String() string {
	if e == MarkerCreated {
		return "created"
	}
	return "removed"
}

// MarkerWatcher logs the marker's lifecycle; it never touches the file
type MarkerWatcher struct {
	marker  Marker
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher
	// Events, if set, also receives every marker event. Sends never block.
	Events chan MarkerEvent
}

// NewMarkerWatcher starts watching the marker directory, creating it if needed
func NewMarkerWatcher(m Marker, log logrus.FieldLogger) (*MarkerWatcher, error) {
	if e := os.MkdirAll(m.Dir, 0755); e != nil {
		return nil, fmt.Errorf("failed to create marker directory: %w", e)
	}
	w, e := fsnotify.NewWatcher()
	if e != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", e)
	}
	if e = w.Add(m.Dir); e != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", m.Dir, e)
	}
	return &MarkerWatcher{
		marker:  m,
		log:     log.WithField("marker", m.Path()),
		watcher: w,
	}, nil
}

// Run reports marker events until ctx is done
func (mw *MarkerWatcher) Run(ctx context.Context) {
	defer mw.watcher.Close()
	target := filepath.Clean(mw.marker.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Op&fsnotify.Create == fsnotify.Create:
				mw.log.Info("no soft off marker created")
				mw.emit(MarkerCreated)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				mw.log.Info("no soft off marker consumed")
				mw.emit(MarkerRemoved)
			}
		case e, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.log.WithError(e).Warning("marker watcher error")
		}
	}
}

func (mw *MarkerWatcher) emit(ev MarkerEvent) {
	if mw.Events == nil {
		return
	}
	select {
	case mw.Events <- ev:
	default:
	}
}
