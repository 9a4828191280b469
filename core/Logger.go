/* Logger.go: logger setup for the agent
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggerLevels maps level names to logrus levels.
// The finer debug levels and notice/critical are folded into their nearest logrus level.
var LoggerLevels = map[string]logrus.Level{
	"panic":    logrus.PanicLevel,
	"fatal":    logrus.FatalLevel,
	"critical": logrus.ErrorLevel,
	"error":    logrus.ErrorLevel,
	"warning":  logrus.WarnLevel,
	"notice":   logrus.InfoLevel,
	"info":     logrus.InfoLevel,
	"debug":    logrus.DebugLevel,
	"ddebug":   logrus.TraceLevel,
	"dddebug":  logrus.TraceLevel,
}

// ParseLevel resolves a level name, case insensitive
func ParseLevel(name string) (logrus.Level, error) {
	if lv, ok := LoggerLevels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lv, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level: %s", name)
}

// NewLogger creates a logger writing to w at the named level
func NewLogger(w io.Writer, level string) (*logrus.Logger, error) {
	lv, e := ParseLevel(level)
	if e != nil {
		return nil, e
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lv)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l, nil
}

// ModuleLogger tags every entry from one component
func ModuleLogger(l logrus.FieldLogger, module string) logrus.FieldLogger {
	return l.WithField("module", module)
}
