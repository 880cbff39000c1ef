package config

import "time"

// ServerConfig identifies this node on the network.
type ServerConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	SID         string `mapstructure:"sid" yaml:"sid"`
	Description string `mapstructure:"description" yaml:"description"`
}

// UplinkConfig holds the link target and its timing knobs.
type UplinkConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	SendPassword   string        `mapstructure:"send_password" yaml:"send_password"`
	RecvPassword   string        `mapstructure:"recv_password" yaml:"recv_password"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout" yaml:"pong_timeout"`
	SendInterval   time.Duration `mapstructure:"send_interval" yaml:"send_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// PluginConfig holds plugin host settings.
type PluginConfig struct {
	Dir              string        `mapstructure:"dir" yaml:"dir"`
	Enabled          []string      `mapstructure:"enabled" yaml:"enabled"`
	EventBudget      time.Duration `mapstructure:"event_budget" yaml:"event_budget"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	Watch            bool          `mapstructure:"watch" yaml:"watch"`
}

// AdminConfig holds the admin API settings. Operators maps operator
// name to a bcrypt password hash; an empty map disables the API even
// when Addr is set.
type AdminConfig struct {
	Addr      string            `mapstructure:"addr" yaml:"addr"`
	JWTSecret string            `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL  time.Duration     `mapstructure:"token_ttl" yaml:"token_ttl"`
	Operators map[string]string `mapstructure:"operators" yaml:"operators"`
}

// Config holds server configuration values.
type Config struct {
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Uplink   UplinkConfig `mapstructure:"uplink" yaml:"uplink"`
	Plugins  PluginConfig `mapstructure:"plugins" yaml:"plugins"`
	Admin    AdminConfig  `mapstructure:"admin" yaml:"admin"`
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:        "perch.localhost",
			SID:         "00A",
			Description: "perch pseudo-server",
		},
		Uplink: UplinkConfig{
			Addr:           "127.0.0.1:6667",
			DialTimeout:    10 * time.Second,
			PingInterval:   time.Minute,
			PongTimeout:    2 * time.Minute,
			ReconnectDelay: 15 * time.Second,
		},
		Plugins: PluginConfig{
			Dir:              "plugins",
			EventBudget:      2 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			Watch:            true,
		},
		Admin: AdminConfig{
			TokenTTL: 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Server.Name != "" {
		c.Server.Name = other.Server.Name
	}
	if other.Server.SID != "" {
		c.Server.SID = other.Server.SID
	}
	if other.Server.Description != "" {
		c.Server.Description = other.Server.Description
	}
	if other.Uplink.Addr != "" {
		c.Uplink.Addr = other.Uplink.Addr
	}
	if other.Uplink.SendPassword != "" {
		c.Uplink.SendPassword = other.Uplink.SendPassword
	}
	if other.Uplink.RecvPassword != "" {
		c.Uplink.RecvPassword = other.Uplink.RecvPassword
	}
	if other.Uplink.DialTimeout != 0 {
		c.Uplink.DialTimeout = other.Uplink.DialTimeout
	}
	if other.Uplink.PingInterval != 0 {
		c.Uplink.PingInterval = other.Uplink.PingInterval
	}
	if other.Uplink.PongTimeout != 0 {
		c.Uplink.PongTimeout = other.Uplink.PongTimeout
	}
	if other.Uplink.SendInterval != 0 {
		c.Uplink.SendInterval = other.Uplink.SendInterval
	}
	if other.Uplink.ReconnectDelay != 0 {
		c.Uplink.ReconnectDelay = other.Uplink.ReconnectDelay
	}
	if other.Plugins.Dir != "" {
		c.Plugins.Dir = other.Plugins.Dir
	}
	if len(other.Plugins.Enabled) != 0 {
		c.Plugins.Enabled = other.Plugins.Enabled
	}
	if other.Plugins.EventBudget != 0 {
		c.Plugins.EventBudget = other.Plugins.EventBudget
	}
	if other.Plugins.HandshakeTimeout != 0 {
		c.Plugins.HandshakeTimeout = other.Plugins.HandshakeTimeout
	}
	if other.Admin.Addr != "" {
		c.Admin.Addr = other.Admin.Addr
	}
	if other.Admin.JWTSecret != "" {
		c.Admin.JWTSecret = other.Admin.JWTSecret
	}
	if other.Admin.TokenTTL != 0 {
		c.Admin.TokenTTL = other.Admin.TokenTTL
	}
	if len(other.Admin.Operators) != 0 {
		c.Admin.Operators = other.Admin.Operators
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// EnabledSet converts the enabled plugin list to the lookup form the
// host takes. Nil means no filter.
func (c *Config) EnabledSet() map[string]bool {
	if len(c.Plugins.Enabled) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.Plugins.Enabled))
	for _, name := range c.Plugins.Enabled {
		set[name] = true
	}
	return set
}
