package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "PERCH_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "perch.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("server.name", cfg.Server.Name)
	v.SetDefault("server.sid", cfg.Server.SID)
	v.SetDefault("server.description", cfg.Server.Description)
	v.SetDefault("uplink.addr", cfg.Uplink.Addr)
	v.SetDefault("uplink.dial_timeout", cfg.Uplink.DialTimeout)
	v.SetDefault("uplink.ping_interval", cfg.Uplink.PingInterval)
	v.SetDefault("uplink.pong_timeout", cfg.Uplink.PongTimeout)
	v.SetDefault("uplink.reconnect_delay", cfg.Uplink.ReconnectDelay)
	v.SetDefault("plugins.dir", cfg.Plugins.Dir)
	v.SetDefault("plugins.event_budget", cfg.Plugins.EventBudget)
	v.SetDefault("plugins.handshake_timeout", cfg.Plugins.HandshakeTimeout)
	v.SetDefault("plugins.watch", cfg.Plugins.Watch)
	v.SetDefault("admin.token_ttl", cfg.Admin.TokenTTL)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("PERCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
