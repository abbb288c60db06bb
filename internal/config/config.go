// Package config loads the login process's JSON configuration file
// (spec.md §6 "CLI / configuration"). The channel process takes its own
// identity on the command line and reads the same file for the database
// block and its own world/channel entry: the client port it listens on
// and the control address login dials.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// Database holds the connection parameters for the shared PostgreSQL
// instance.
type Database struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port,omitempty"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Name     string `json:"db"`
}

// DSN renders the connection parameters as a postgres:// URL suitable
// for pgxpool.New.
func (d Database) DSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, port, d.Name)
}

// Channel is one channel's reachability, as handed back to clients so
// they can connect to it directly.
type Channel struct {
	Host string `json:"host"` // control-channel dial address: IPv4, IPv6, or an AF_UNIX path
	IP   string `json:"ip"`   // client-facing IPv4 address
	Port uint16 `json:"port"`
}

// World groups the channels that share one game world.
type World struct {
	Channels []Channel `json:"channels"`
}

// Config is the login process's full configuration.
type Config struct {
	Database Database `json:"database"`
	Worlds   []World  `json:"worlds"`
}

// Load reads and validates a JSON config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.db is required")
	}
	if len(c.Worlds) == 0 {
		return fmt.Errorf("at least one world is required")
	}
	for wi, w := range c.Worlds {
		if len(w.Channels) == 0 {
			return fmt.Errorf("worlds[%d] has no channels", wi)
		}
		for ci, ch := range w.Channels {
			if ch.Host == "" {
				return fmt.Errorf("worlds[%d].channels[%d].host is required", wi, ci)
			}
			if ch.Port == 0 {
				return fmt.Errorf("worlds[%d].channels[%d].port is required", wi, ci)
			}
			if ip := net.ParseIP(ch.IP); ip == nil || ip.To4() == nil {
				return fmt.Errorf("worlds[%d].channels[%d].ip %q is not a valid IPv4 address", wi, ci, ch.IP)
			}
		}
	}
	return nil
}

// ChannelKey derives the identifier a (world, channel) pair registers
// itself under on the login⇄channel control stream (internal/control),
// shared by both the login and channel processes.
func ChannelKey(worldID, channelID int) string {
	return fmt.Sprintf("w%dc%d", worldID, channelID)
}

// ChannelAt resolves a (world, channel) index pair, as selected by the
// login's world-list/channel-select opcodes.
func (c *Config) ChannelAt(worldID, channelID int) (Channel, error) {
	if worldID < 0 || worldID >= len(c.Worlds) {
		return Channel{}, fmt.Errorf("config: world %d out of range", worldID)
	}
	channels := c.Worlds[worldID].Channels
	if channelID < 0 || channelID >= len(channels) {
		return Channel{}, fmt.Errorf("config: channel %d out of range in world %d", channelID, worldID)
	}
	return channels[channelID], nil
}
