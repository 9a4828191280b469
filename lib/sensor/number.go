/* number.go: sensor number allocation and sensor types by object path
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package sensor

import (
	"fmt"
	"sort"
	"strings"
)

const (
	MaxSensorsPerLUN     = 255
	MaxIPMISensors       = MaxSensorsPerLUN * 3
	LUN1Sensor0          = 0x100
	LUN3Sensor0          = 0x300
	InvalidSensorNumber  = 0xFFFF
	ReservedSensorNumber = 0xFF
)

// NumberMap assigns IPMI sensor numbers to sensor object paths.
// Numbers run 0x00-0xFE on LUN 0, then LUN 1, then LUN 3; LUN 2 is skipped.
type NumberMap struct {
	byPath   map[string]uint16
	byNumber map[uint16]string
}

// NewNumberMap numbers paths in version-sort order
func NewNumberMap(paths []string) (*NumberMap, error) {
	if len(paths) > MaxIPMISensors {
		return nil, fmt.Errorf("too many sensors: %d, at most %d can be numbered", len(paths), MaxIPMISensors)
	}
	sorted := append([]string{}, paths...)
	sort.SliceStable(sorted, func(i, j int) bool { return VersionCompare(sorted[i], sorted[j]) < 0 })

	m := &NumberMap{
		byPath:   make(map[string]uint16, len(sorted)),
		byNumber: make(map[uint16]string, len(sorted)),
	}
	var n uint16
	for _, p := range sorted {
		if _, ok := m.byPath[p]; ok {
			continue
		}
		m.byPath[p] = n
		m.byNumber[n] = p
		n++
		switch n {
		case MaxSensorsPerLUN:
			n = LUN1Sensor0
		case LUN1Sensor0 | MaxSensorsPerLUN:
			n = LUN3Sensor0
		}
	}
	return m, nil
}

// Number returns the sensor number of path
func (m *NumberMap) Number(path string) (uint16, bool) {
	n, ok := m.byPath[path]
	if !ok {
		return InvalidSensorNumber, false
	}
	return n, true
}

// Path returns the object path numbered n
func (m *NumberMap) Path(n uint16) (string, bool) {
	p, ok := m.byNumber[n]
	return p, ok
}

// Len is the number of numbered sensors
func (m *NumberMap) Len() int { return len(m.byPath) }

// SplitNumber splits a sensor number into its LUN and the number on that LUN
func SplitNumber(n uint16) (lun, num uint8) {
	return uint8(n >> 8), uint8(n)
}

/*
 * Sensor types
 */

// Sensor type codes
const (
	TypeReserved    uint8 = 0x00
	TypeTemperature uint8 = 0x01
	TypeVoltage     uint8 = 0x02
	TypeCurrent     uint8 = 0x03
	TypeFan         uint8 = 0x04
	TypeOther       uint8 = 0x0B
	TypeMemory      uint8 = 0x0C
	TypePowerUnit   uint8 = 0x09
	TypeButtons     uint8 = 0x14
	TypeWatchdog2   uint8 = 0x23
)

// Event/reading type codes
const (
	EventUnspecified     uint8 = 0x00
	EventThreshold       uint8 = 0x01
	EventSensorSpecified uint8 = 0x6f
)

type typeCodes struct {
	sensor uint8
	event  uint8
}

var sensorTypes = map[string]typeCodes{
	"temperature": {TypeTemperature, EventThreshold},
	"voltage":     {TypeVoltage, EventThreshold},
	"current":     {TypeCurrent, EventThreshold},
	"fan_tach":    {TypeFan, EventThreshold},
	"fan_pwm":     {TypeFan, EventThreshold},
	"power":       {TypeOther, EventThreshold},
	"memory":      {TypeMemory, EventSensorSpecified},
	"state":       {TypePowerUnit, EventSensorSpecified},
	"buttons":     {TypeButtons, EventSensorSpecified},
	"watchdog":    {TypeWatchdog2, EventSensorSpecified},
}

// TypeString is the second to last element of a sensor path,
// e.g. "temperature" for /xyz/openbmc_project/sensors/temperature/cpu0
func TypeString(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// Type is the sensor type code for path, TypeReserved if unknown
func Type(path string) uint8 {
	return sensorTypes[TypeString(path)].sensor
}

// EventType is the event/reading type code for path, EventUnspecified if unknown
func EventType(path string) uint8 {
	return sensorTypes[TypeString(path)].event
}

/*
 * Version ordering, as glibc strverscmp: digit runs compare numerically,
 * and a run with leading zeros sorts as a fraction before any integer.
 */

const (
	vsNormal   = 0
	vsInteger  = 3
	vsFraction = 6
	vsZeros    = 9

	vrCmp = 2
	vrLen = 3
)

var vsNext = [...]int{
	// other      digit       zero
	vsNormal, vsInteger, vsZeros, // normal
	vsNormal, vsInteger, vsInteger, // integer
	vsNormal, vsFraction, vsFraction, // fraction
	vsNormal, vsFraction, vsZeros, // zeros
}

var vsResult = [...]int{
	// x/x  x/d    x/0    d/x    d/d    d/0    0/x    0/d    0/0
	vrCmp, vrCmp, vrCmp, vrCmp, vrLen, vrCmp, vrCmp, vrCmp, vrCmp, // normal
	vrCmp, -1, -1, +1, vrLen, vrLen, +1, vrLen, vrLen, // integer
	vrCmp, vrCmp, vrCmp, vrCmp, vrCmp, vrCmp, vrCmp, vrCmp, vrCmp, // fraction
	vrCmp, +1, +1, -1, vrCmp, vrCmp, -1, vrCmp, vrCmp, // zeros
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func charClass(c byte) int {
	switch {
	case c == '0':
		return 2
	case isDigit(c):
		return 1
	}
	return 0
}

// VersionCompare orders a and b the way strverscmp does, returning <0, 0 or >0
func VersionCompare(a, b string) int {
	if a == b {
		return 0
	}
	// at returns the NUL terminator past the end
	at := func(s string, i int) byte {
		if i < len(s) {
			return s[i]
		}
		return 0
	}
	i := 0
	c1, c2 := at(a, i), at(b, i)
	state := vsNormal + charClass(c1)
	for c1 == c2 {
		if c1 == 0 {
			return 0
		}
		state = vsNext[state]
		i++
		c1, c2 = at(a, i), at(b, i)
		state += charClass(c1)
	}
	diff := int(c1) - int(c2)
	switch r := vsResult[state*3+charClass(c2)]; r {
	case vrCmp:
		return diff
	case vrLen:
		// the longer digit run is the larger number
		j := i + 1
		for ; isDigit(at(a, j)); j++ {
			if !isDigit(at(b, j)) {
				return 1
			}
		}
		if isDigit(at(b, j)) {
			return -1
		}
		return diff
	default:
		return r
	}
}
