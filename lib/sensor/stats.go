/* stats.go: per-sensor reading instrumentation
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

// Package sensor keeps reading statistics for polled sensors and maps
// sensor object paths to IPMI sensor numbers and types.
package sensor

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// Entry is the instrumentation kept for one sensor index
type Entry struct {
	Name       string  `json:"name"`
	Readings   int     `json:"readings"`
	Missings   int     `json:"missings"`
	StreakRead int     `json:"streak_read"`
	StreakMiss int     `json:"streak_miss"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

func autoName(i int) string { return fmt.Sprintf("0x%02X", i) }

// update records one reading. It returns true if this is the first good reading.
func (e *Entry) update(reading float64, raw int, log logrus.FieldLogger) bool {
	l := log.WithFields(logrus.Fields{
		"sensor": e.Name,
		"raw":    raw,
	})
	// sensors report NaN or Inf when they have no value
	if math.IsNaN(reading) || math.IsInf(reading, 0) {
		if e.StreakMiss == 0 {
			l.WithFields(logrus.Fields{
				"good":        e.Readings,
				"miss":        e.Missings,
				"good_streak": e.StreakRead,
			}).Info("missing reading")
		}
		e.StreakRead = 0
		e.Missings++
		e.StreakMiss++
		return false
	}

	l = l.WithField("value", reading)
	if e.StreakRead == 0 && e.Readings != 0 {
		l.WithFields(logrus.Fields{
			"good":        e.Readings,
			"miss":        e.Missings,
			"miss_streak": e.StreakMiss,
		}).Info("recovered reading")
	}
	first := e.Readings == 0
	if first {
		l.Info("first reading")
		e.Min = reading
		e.Max = reading
	}
	e.StreakMiss = 0
	e.Readings++
	e.StreakRead++

	if reading < e.Min {
		l.Info("lowest reading")
		e.Min = reading
	}
	if reading > e.Max {
		l.Info("highest reading")
		e.Max = reading
	}
	return first
}

// StatsTable grows on demand to cover any index it is asked about.
// One table is shared by every sensor reader; all access is serialized.
type StatsTable struct {
	mutex   sync.Mutex
	enabled bool
	entries []Entry
	log     logrus.FieldLogger
}

// NewStatsTable creates an empty table. A disabled table keeps names but records no readings.
func NewStatsTable(enabled bool, log logrus.FieldLogger) *StatsTable {
	return &StatsTable{
		enabled: enabled,
		log:     log,
	}
}

// Enabled reports whether readings are recorded
func (t *StatsTable) Enabled() bool { return t.enabled }

// pad must be called with the lock held
func (t *StatsTable) pad(i int) {
	for len(t.entries) <= i {
		t.entries = append(t.entries, Entry{Name: autoName(len(t.entries))})
	}
}

// Name returns the name of index i, growing the table if needed
func (t *StatsTable) Name(i int) string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.pad(i)
	return t.entries[i].Name
}

// SetName replaces the name of index i, growing the table if needed
func (t *StatsTable) SetName(i int, name string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.pad(i)
	t.entries[i].Name = name
}

// UpdateReading records a reading for index i. It returns true exactly once
// per index: on its first finite reading since creation or the last Wipe.
func (t *StatsTable) UpdateReading(i int, reading float64, raw int) bool {
	if !t.enabled {
		return false
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.pad(i)
	return t.entries[i].update(reading, raw, t.log)
}

// Wipe drops every entry
func (t *StatsTable) Wipe() {
	t.mutex.Lock()
	t.entries = nil
	t.mutex.Unlock()
}

// Len is the number of materialized entries
func (t *StatsTable) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.entries)
}

// Entry returns a copy of index i without growing the table
func (t *StatsTable) Entry(i int) (Entry, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Snapshot copies every entry
func (t *StatsTable) Snapshot() []Entry {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]Entry{}, t.entries...)
}
