/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config resolves the server configuration from defaults, an
// optional YAML file, WOL_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddress is the TCP address of the protocol server
	DefaultListenAddress = "0.0.0.0:9876"
	// DefaultBroadcastAddress is the limited-broadcast address
	DefaultBroadcastAddress = "255.255.255.255"
	// DefaultWOLPort is the standard Wake-on-LAN UDP port
	DefaultWOLPort = 9
	// DefaultMaxMessageSize bounds a single request frame
	DefaultMaxMessageSize = 1024
	// DefaultHealthAddress serves /healthz, /readyz and /metrics
	DefaultHealthAddress = ":8080"

	maxMessageSizeLimit = 1 << 20
)

// Config holds every tunable of the server binary
type Config struct {
	// ListenAddress is the host:port the protocol server binds
	ListenAddress string `yaml:"listenAddress"`
	// BroadcastAddress is the IPv4 address magic packets are sent to
	BroadcastAddress string `yaml:"broadcastAddress"`
	// WOLPort is the UDP destination port of magic packets
	WOLPort int `yaml:"wolPort"`
	// MaxMessageSize is the largest accepted request payload in bytes
	MaxMessageSize int `yaml:"maxMessageSize"`
	// HealthAddress is the host:port of the health/metrics server, empty disables it
	HealthAddress string `yaml:"healthAddress"`
	// LogLevel is debug, info, error or a positive verbosity number
	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ListenAddress:    DefaultListenAddress,
		BroadcastAddress: DefaultBroadcastAddress,
		WOLPort:          DefaultWOLPort,
		MaxMessageSize:   DefaultMaxMessageSize,
		HealthAddress:    DefaultHealthAddress,
		LogLevel:         "info",
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file keep their value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		// An empty file decodes to io.EOF
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays WOL_* variables returned by lookup onto c
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("WOL_LISTEN_ADDRESS", &c.ListenAddress)
	str("WOL_BROADCAST_ADDRESS", &c.BroadcastAddress)
	str("WOL_HEALTH_ADDRESS", &c.HealthAddress)
	str("WOL_LOG_LEVEL", &c.LogLevel)
	if err := num("WOL_PORT", &c.WOLPort); err != nil {
		return err
	}
	return num("WOL_MAX_MESSAGE_SIZE", &c.MaxMessageSize)
}

// Validate checks every field and returns the first problem found
func (c Config) Validate() error {
	if err := validateHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
	}
	if ip := net.ParseIP(c.BroadcastAddress); ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid broadcast address %q: must be an IPv4 address", c.BroadcastAddress)
	}
	if c.WOLPort < 1 || c.WOLPort > 65535 {
		return fmt.Errorf("WOL port %d out of range (must be 1-65535)", c.WOLPort)
	}
	if c.MaxMessageSize < 1 || c.MaxMessageSize > maxMessageSizeLimit {
		return fmt.Errorf("max message size %d out of range (must be 1-%d)", c.MaxMessageSize, maxMessageSizeLimit)
	}
	if c.HealthAddress != "" {
		if err := validateHostPort(c.HealthAddress); err != nil {
			return fmt.Errorf("invalid health address %q: %w", c.HealthAddress, err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level converts LogLevel to a zap level. Numbers map to logr verbosity,
// so "2" enables log.V(2).
func (c Config) Level() (zapcore.Level, error) {
	if n, err := strconv.Atoi(c.LogLevel); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
		}
		return zapcore.Level(-n), nil
	}
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func validateHostPort(address string) error {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// Flags binds the configuration to a flag set. Only flags that were
// explicitly set override file and environment values.
type Flags struct {
	fs     *flag.FlagSet
	path   string
	values Config
}

// BindFlags registers --config and one flag per Config field on fs
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs, values: Default()}

	fs.StringVar(&f.path, "config", os.Getenv("WOL_CONFIG"), "Path to a YAML config file (or WOL_CONFIG)")
	fs.StringVar(&f.values.ListenAddress, "listen-address", f.values.ListenAddress,
		"TCP address the protocol server listens on (or WOL_LISTEN_ADDRESS)")
	fs.StringVar(&f.values.BroadcastAddress, "broadcast-address", f.values.BroadcastAddress,
		"IPv4 address magic packets are sent to (or WOL_BROADCAST_ADDRESS)")
	fs.IntVar(&f.values.WOLPort, "wol-port", f.values.WOLPort,
		"UDP port magic packets are sent to (or WOL_PORT)")
	fs.IntVar(&f.values.MaxMessageSize, "max-message-size", f.values.MaxMessageSize,
		"Largest accepted request payload in bytes (or WOL_MAX_MESSAGE_SIZE)")
	fs.StringVar(&f.values.HealthAddress, "health-address", f.values.HealthAddress,
		"Address of the health and metrics endpoint, empty to disable (or WOL_HEALTH_ADDRESS)")
	fs.StringVar(&f.values.LogLevel, "log-level", f.values.LogLevel,
		"Default log level: debug, info, error or a verbosity number (or WOL_LOG_LEVEL)")

	return f
}

// Resolve builds the effective configuration after fs has been parsed
func (f *Flags) Resolve(lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if f.path != "" {
		if err := cfg.LoadFile(f.path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return Config{}, err
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen-address":
			cfg.ListenAddress = f.values.ListenAddress
		case "broadcast-address":
			cfg.BroadcastAddress = f.values.BroadcastAddress
		case "wol-port":
			cfg.WOLPort = f.values.WOLPort
		case "max-message-size":
			cfg.MaxMessageSize = f.values.MaxMessageSize
		case "health-address":
			cfg.HealthAddress = f.values.HealthAddress
		case "log-level":
			cfg.LogLevel = f.values.LogLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Path returns the config file path given by --config or WOL_CONFIG
func (f *Flags) Path() string {
	return f.path
}
