// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/extfs/pkg/log"
)

// Config is the configuration shared by all extinspect commands. It is read
// from the TOML file named by --config, and flags given on the command line
// override it.
type Config struct {
	// Debug forces the debug log level.
	Debug bool `toml:"debug"`

	// LogLevel is one of warning, info or debug.
	LogLevel string `toml:"log_level"`

	// LogFormat is one of text, json or json-k8s.
	LogFormat string `toml:"log_format"`

	// LogFile is a file pattern logs are appended to, in addition to
	// stderr. See log.FilePattern for the variables it may use.
	LogFile string `toml:"log_file"`

	// MetadataReads reads the image in whole blocks.
	MetadataReads bool `toml:"metadata_reads"`

	// ReadConcurrency bounds parallel directory block reads.
	ReadConcurrency int `toml:"read_concurrency"`

	// LockTimeout is how long to wait for a shared lock on the image.
	LockTimeout duration `toml:"lock_timeout"`

	// TransientXattrs are applied to items before xattrs are listed.
	TransientXattrs []TransientXattr `toml:"transient_xattr"`
}

// TransientXattr sets or hides one extended attribute of a path for the
// duration of a command.
type TransientXattr struct {
	Path   string `toml:"path"`
	Name   string `toml:"name"`
	Value  string `toml:"value"`
	Remove bool   `toml:"remove"`
}

// duration is a time.Duration that decodes from TOML strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:    "warning",
		LogFormat:   "text",
		LockTimeout: duration{5 * time.Second},
	}
}

// registerFlags registers the global flags on fs. The returned Config
// receives flag values; newConfig merges it over the file.
func registerFlags(fs *flag.FlagSet) *Config {
	c := defaultConfig()
	fs.String("config", "", "path to a TOML configuration file.")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: warning, info or debug.")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text, json or json-k8s.")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "additional log file; %IMAGE%, %COMMAND% and %TIMESTAMP% are expanded.")
	fs.BoolVar(&c.MetadataReads, "metadata-reads", c.MetadataReads, "read the image in whole blocks.")
	fs.IntVar(&c.ReadConcurrency, "read-concurrency", c.ReadConcurrency, "parallel directory block reads, 0 for the default.")
	fs.DurationVar(&c.LockTimeout.Duration, "lock-timeout", c.LockTimeout.Duration, "how long to wait for a shared lock on the image.")
	return c
}

// newConfig loads the file named by the config flag of fs, if any, and
// applies the flags that were set explicitly from flags.
func newConfig(fs *flag.FlagSet, flags *Config) (*Config, error) {
	c := defaultConfig()
	if path := fs.Lookup("config").Value.String(); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("error loading config %q: %v", path, err)
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			c.Debug = flags.Debug
		case "log-level":
			c.LogLevel = flags.LogLevel
		case "log-format":
			c.LogFormat = flags.LogFormat
		case "log-file":
			c.LogFile = flags.LogFile
		case "metadata-reads":
			c.MetadataReads = flags.MetadataReads
		case "read-concurrency":
			c.ReadConcurrency = flags.ReadConcurrency
		case "lock-timeout":
			c.LockTimeout = flags.LockTimeout
		}
	})
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.ReadConcurrency < 0 {
		return fmt.Errorf("invalid read concurrency %d", c.ReadConcurrency)
	}
	if c.LockTimeout.Duration <= 0 {
		return fmt.Errorf("invalid lock timeout %v", c.LockTimeout.Duration)
	}
	for _, x := range c.TransientXattrs {
		if x.Path == "" || x.Name == "" {
			return fmt.Errorf("transient xattr needs a path and a name: %+v", x)
		}
	}
	return nil
}

// level returns the effective log level.
func (c *Config) level() log.Level {
	if c.Debug {
		return log.Debug
	}
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}
