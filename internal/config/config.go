// Package config holds the handful of settings recognized at the external
// boundary (spec §6). Configuration loading proper is an out-of-scope
// collaborator; this package is the "minimal interface" the core consumes
// it through — environment variables first, an optional YAML file layered
// underneath for convenience, read the way the teacher reads project.yaml.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Mode selects how the client treats the cloud cache.
type Mode string

const (
	// ModeOff disables all networking; Connect fails fast without touching
	// the socket, matching the original cloud.c's offline short-circuit.
	ModeOff  Mode = "offline"
	ModeRace Mode = "race"
	ModeOn   Mode = "on"
)

const (
	// DefaultConnections is the upstream pool size when CCACHED_CONNECTIONS
	// is unset.
	DefaultConnections = 8

	// ProtocolRevision is bumped whenever the wire framing changes; it is
	// baked into the socket path so mismatched clients/daemons coexist.
	ProtocolRevision = 1
)

// Config is the resolved set of boundary settings.
type Config struct {
	CacheDir    string `yaml:"cache_dir"`
	ServerHost  string `yaml:"server_host"`
	Mode        Mode   `yaml:"mode"`
	UserKey     string `yaml:"user_key"`
	Connections int    `yaml:"connections"`
}

// Load resolves configuration from the environment, then layers in
// <cache_dir>/ccached.yaml for any field the environment left unset.
func Load() (Config, error) {
	cfg := Config{
		CacheDir:    os.Getenv("CCACHED_DIR"),
		ServerHost:  os.Getenv("CCACHED_SERVER_HOST"),
		Mode:        Mode(os.Getenv("CCACHED_MODE")),
		UserKey:     os.Getenv("CCACHED_USER_KEY"),
		Connections: envInt("CCACHED_CONNECTIONS", 0),
	}

	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, err
		}
		cfg.CacheDir = filepath.Join(home, ".ccached")
	}

	cfg.mergeFile(filepath.Join(cfg.CacheDir, "ccached.yaml"))

	if cfg.Mode == "" {
		cfg.Mode = ModeOn
	}
	if cfg.Connections <= 0 {
		cfg.Connections = DefaultConnections
	}

	return cfg, nil
}

// mergeFile fills in any zero-valued fields from an optional YAML override.
// A missing or unreadable file is silently ignored — it is pure convenience
// layered under the environment-variable contract, never authoritative.
func (c *Config) mergeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return
	}
	if c.ServerHost == "" {
		c.ServerHost = file.ServerHost
	}
	if c.Mode == "" {
		c.Mode = file.Mode
	}
	if c.UserKey == "" {
		c.UserKey = file.UserKey
	}
	if c.Connections == 0 {
		c.Connections = file.Connections
	}
}

// SocketPath returns <cache_dir>/daemon.<euid>.<hostname>.<proto_rev> (§6).
func (c Config) SocketPath() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	name := "daemon." + strconv.Itoa(os.Geteuid()) + "." + hostname + "." + strconv.Itoa(ProtocolRevision)
	return filepath.Join(c.CacheDir, name), nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
