// Package config loads the mqtt-host configuration file. The format is
// line oriented, dnsmasq style: "optionName remainder of line is the
// value", with "#" comments. Unknown options are collected as warnings
// rather than failing the load, so configs can be shared across versions.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the host configuration.
type Config struct {
	// BrokerURL is the default broker address, e.g. "tcp://host:1883".
	BrokerURL string
	// ClientID overrides the generated MQTT client id.
	ClientID string
	Username string
	Password string
	// KeepAlive is the MQTT keepalive interval.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial broker handshake.
	ConnectTimeout time.Duration
	// AutoReconnect re-establishes dropped sessions.
	AutoReconnect bool
	// Extra holds unrecognized-but-well-formed options for forward
	// compatibility.
	Extra map[string]string
	// Warnings contains soft failures encountered during parsing.
	Warnings []string
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
		Extra:          make(map[string]string),
	}
}

// Load reads the config from the default path. A missing file yields the
// default config, not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the config from path. Symlinked config files are
// rejected; a missing file yields the default config.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("config: symlink not allowed: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads the config from r.
func Parse(r io.Reader) (*Config, error) {
	cfg := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		if err := cfg.apply(name, value); err != nil {
			cfg.warnf("line %d: %v", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return cfg, nil
}

func (c *Config) apply(name, value string) error {
	switch name {
	case "broker-url":
		c.BrokerURL = value
	case "client-id":
		c.ClientID = value
	case "username":
		c.Username = value
	case "password":
		c.Password = value
	case "keepalive-seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid keepalive-seconds %q", value)
		}
		c.KeepAlive = time.Duration(n) * time.Second
	case "connect-timeout-seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid connect-timeout-seconds %q", value)
		}
		c.ConnectTimeout = time.Duration(n) * time.Second
	case "auto-reconnect":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid auto-reconnect %q", value)
		}
		c.AutoReconnect = b
	default:
		c.Extra[name] = value
		return fmt.Errorf("unknown option %q", name)
	}
	return nil
}

func (c *Config) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("config: " + msg)
}
