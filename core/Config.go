/* Config.go: agent configuration from YAML and the command line
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package core

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/kraken-hpc/chassisd/lib/power"
)

// Store backends
const (
	StoreDBus   = "dbus"
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

type SoftOffConfig struct {
	Service string `yaml:"service"`
	Path    string `yaml:"path"`
}

// Config is the agent configuration
type Config struct {
	LogLevel          string        `yaml:"log_level"`
	Listen            string        `yaml:"listen"`
	StatsListen       string        `yaml:"stats_listen"`
	Store             string        `yaml:"store"`
	BoltPath          string        `yaml:"bolt_path"`
	InbandRequestDir  string        `yaml:"inband_request_dir"`
	InbandRequestFile string        `yaml:"inband_request_file"`
	HostIndex         int           `yaml:"host_index"`
	Instrumentation   bool          `yaml:"instrumentation"`
	WatchMarker       bool          `yaml:"watch_marker"`
	SoftOff           SoftOffConfig `yaml:"softoff"`
}

// DefaultConfig returns the built in configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		Listen:            ":623",
		StatsListen:       "127.0.0.1:3142",
		Store:             StoreDBus,
		BoltPath:          "/var/lib/chassisd/props.db",
		InbandRequestDir:  power.DefaultMarkerDir,
		InbandRequestFile: power.DefaultMarkerFile,
		HostIndex:         0,
		Instrumentation:   false,
		WatchMarker:       true,
		SoftOff: SoftOffConfig{
			Service: power.DefaultSoftOffService,
			Path:    power.DefaultSoftOffPath,
		},
	}
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, e := ioutil.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("could not read config file %s: %v", path, e)
	}
	if e = yaml.UnmarshalStrict(data, c); e != nil {
		return nil, fmt.Errorf("could not parse config file %s: %v", path, e)
	}
	return c, nil
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks values the agent cannot start with
func (c *Config) Validate() error {
	if _, e := ParseLevel(c.LogLevel); e != nil {
		return e
	}
	switch c.Store {
	case StoreDBus, StoreMemory, StoreBolt:
	default:
		return fmt.Errorf("unknown store: %s", c.Store)
	}
	if c.Store == StoreBolt && c.BoltPath == "" {
		return fmt.Errorf("bolt store needs a bolt_path")
	}
	if c.InbandRequestDir == "" {
		return fmt.Errorf("inband_request_dir must be set")
	}
	verbs := strings.Count(strings.ReplaceAll(c.InbandRequestFile, "%%", ""), "%")
	if verbs != 1 || strings.Contains(fmt.Sprintf(c.InbandRequestFile, 0), "%!") {
		return fmt.Errorf("inband_request_file must contain exactly one integer verb: %q", c.InbandRequestFile)
	}
	if c.HostIndex < 0 {
		return fmt.Errorf("host_index must not be negative: %d", c.HostIndex)
	}
	return nil
}

// Marker is the no-soft-off marker this configuration describes
func (c *Config) Marker() power.Marker {
	return power.Marker{
		Dir:  c.InbandRequestDir,
		File: c.InbandRequestFile,
		Host: c.HostIndex,
	}
}

func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "log level (panic, fatal, critical, error, warning, notice, info, debug, ddebug, dddebug)")
	fs.StringVar(&c.Listen, "listen", c.Listen, "IPMI LAN listen address")
	fs.StringVar(&c.StatsListen, "stats-listen", c.StatsListen, "sensor stats API listen address, empty disables")
	fs.StringVar(&c.Store, "store", c.Store, "property store backend (dbus, memory, bolt)")
	fs.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "database file for the bolt store")
	fs.StringVar(&c.InbandRequestDir, "inband-request-dir", c.InbandRequestDir, "directory of the no soft off marker")
	fs.StringVar(&c.InbandRequestFile, "inband-request-file", c.InbandRequestFile, "no soft off marker file name template")
	fs.IntVar(&c.HostIndex, "host-index", c.HostIndex, "host instance index")
	fs.BoolVar(&c.Instrumentation, "instrumentation", c.Instrumentation, "record sensor reading statistics")
	fs.BoolVar(&c.WatchMarker, "watch-marker", c.WatchMarker, "log no soft off marker creation and removal")
	fs.StringVar(&c.SoftOff.Service, "softoff-service", c.SoftOff.Service, "soft power off service name")
	fs.StringVar(&c.SoftOff.Path, "softoff-path", c.SoftOff.Path, "soft power off object path")
}

// ParseFlags builds the configuration from the defaults, an optional
// YAML file named by --config, and the command line. Flags win over the file.
func ParseFlags(name string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	c := DefaultConfig()
	path := fs.StringP("config", "c", "", "YAML configuration file")
	c.bindFlags(fs)
	if e := fs.Parse(args); e != nil {
		return nil, e
	}
	if *path != "" {
		loaded, e := LoadConfig(*path)
		if e != nil {
			return nil, e
		}
		lfs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		loaded.bindFlags(lfs)
		fs.Visit(func(f *pflag.Flag) {
			if lf := lfs.Lookup(f.Name); lf != nil && e == nil {
				e = lfs.Set(f.Name, f.Value.String())
			}
		})
		if e != nil {
			return nil, e
		}
		c = loaded
	}
	return c, c.Validate()
}
