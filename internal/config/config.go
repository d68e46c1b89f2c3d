// Package config loads the bot configuration from a YAML or TOML file,
// with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"xonbot/internal/cointoss"
	"xonbot/internal/rcon"
)

type ServerConfig struct {
	Name          string   `mapstructure:"name"`
	Address       string   `mapstructure:"address"`
	RconPassword  string   `mapstructure:"rconPassword"`
	RconSecurity  string   `mapstructure:"rconSecurity"` // plain, time or challenge; default time
	LocalHost     string   `mapstructure:"localHost"`    // address the server streams its log to
	BotNick       string   `mapstructure:"botNick"`
	SayVia        string   `mapstructure:"sayVia"` // ircmsg or say
	SayRate       float64  `mapstructure:"sayRate"`
	MapPoolPath   string   `mapstructure:"mapPoolPath"`
	CointossSteps []string `mapstructure:"cointossSteps"`
	AuditPath     string   `mapstructure:"auditPath"`
	Enabled       bool     `mapstructure:"enabled"`
}

type IRCConfig struct {
	Server   string `mapstructure:"server"`
	Nick     string `mapstructure:"nick"`
	User     string `mapstructure:"user"`
	Channel  string `mapstructure:"channel"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"useTLS"`
	Enabled  bool   `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	FileMaxSize int64  `mapstructure:"fileMaxSize"` // rotation threshold in bytes
}

type Config struct {
	Servers []ServerConfig `mapstructure:"servers"`
	IRC     IRCConfig      `mapstructure:"irc"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetConfigName("xonbot") // name of config file (without extension)
	viper.AddConfigPath(".")      // look for config in the working directory

	// Enable automatic environment variable reading
	viper.AutomaticEnv()
	viper.SetEnvPrefix("XONBOT") // all env vars must start with XONBOT_

	viper.BindEnv("irc.password", "IRC_PASSWORD")

	// Try YAML first, then TOML
	viper.SetConfigType("yml")
	err := viper.ReadInConfig()
	if err != nil {
		viper.SetConfigType("toml")
		err = viper.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("no xonbot.yml or xonbot.toml found: %w", err)
		}
	}

	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}

	// Dynamically bind environment variables for each server's RCON password
	// Format: RCON_PASSWORD_0, RCON_PASSWORD_1, etc. will override servers[i].rconPassword
	for i := range config.Servers {
		viper.BindEnv(fmt.Sprintf("servers.%d.rconPassword", i), fmt.Sprintf("RCON_PASSWORD_%d", i))
	}

	// Re-unmarshal to apply environment variable overrides
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that all enabled servers have required configuration fields
// and that parsed sub-configs (security mode, cointoss steps) are well formed.
func (c *Config) Validate() error {
	for i, server := range c.Servers {
		if !server.Enabled {
			continue // Skip validation for disabled servers
		}

		if server.Name == "" {
			return fmt.Errorf("server at index %d is missing 'name' field", i)
		}

		if server.Address == "" {
			return fmt.Errorf("server '%s' (index %d) is missing 'address' field", server.Name, i)
		}

		if server.RconPassword == "" {
			return fmt.Errorf("server '%s' (index %d) is missing 'rconPassword' field", server.Name, i)
		}

		if _, err := rcon.ParseSecurityMode(server.RconSecurity); err != nil {
			return fmt.Errorf("server '%s' (index %d): %w", server.Name, i, err)
		}

		if len(server.CointossSteps) > 0 {
			if _, err := cointoss.ParseSteps(server.CointossSteps); err != nil {
				return fmt.Errorf("server '%s' (index %d): %w", server.Name, i, err)
			}
			if server.MapPoolPath == "" {
				return fmt.Errorf("server '%s' (index %d) has cointoss steps but no 'mapPoolPath'", server.Name, i)
			}
		}

		switch server.SayVia {
		case "", "ircmsg", "say":
		default:
			return fmt.Errorf("server '%s' (index %d): unknown sayVia %q", server.Name, i, server.SayVia)
		}
	}

	if c.IRC.Enabled {
		if c.IRC.Server == "" {
			return fmt.Errorf("irc is enabled but 'server' is missing")
		}
		if c.IRC.Nick == "" {
			return fmt.Errorf("irc is enabled but 'nick' is missing")
		}
		if c.IRC.Channel == "" {
			return fmt.Errorf("irc is enabled but 'channel' is missing")
		}
	}

	return nil
}

// Exists checks if a config file exists in the current directory
func Exists() bool {
	for _, name := range []string{"xonbot.yml", "xonbot.yaml", "xonbot.toml"} {
		if _, err := os.Stat(name); err == nil {
			return true
		}
	}
	return false
}
