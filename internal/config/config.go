package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/handelsrausch/internal/models"
)

// Config is the root configuration for a server instance.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Game     GameConfig     `yaml:"game"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// DatabaseConfig holds the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the guest token signing secret.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// GameConfig holds the defaults applied to newly created rooms. A
// stored per-room settings blob overrides these.
type GameConfig struct {
	TickMs        int     `yaml:"tick_ms"`
	StartMoney    float64 `yaml:"start_money"`
	WinByMoney    *bool   `yaml:"win_by_money"`
	MoneyTarget   float64 `yaml:"money_target"`
	TimeTargetSec int     `yaml:"time_target_sec"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "public"
	}
	if c.Game.TickMs == 0 {
		c.Game.TickMs = 1000
	}
	if c.Game.StartMoney == 0 {
		c.Game.StartMoney = 1000
	}
	if c.Game.MoneyTarget == 0 {
		c.Game.MoneyTarget = 100000
	}
	if c.Game.TimeTargetSec == 0 {
		c.Game.TimeTargetSec = 3600
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Game.TickMs < 0 {
		return fmt.Errorf("game.tick_ms must be positive")
	}
	if c.Game.StartMoney < 0 {
		return fmt.Errorf("game.start_money must be positive")
	}
	return nil
}

// DefaultSettings builds the room settings applied when no blob is
// stored for a room.
func (c *Config) DefaultSettings() models.RoomSettings {
	winByMoney := true
	if c.Game.WinByMoney != nil {
		winByMoney = *c.Game.WinByMoney
	}
	return models.RoomSettings{
		TickMs:        c.Game.TickMs,
		StartMoney:    c.Game.StartMoney,
		WinByMoney:    winByMoney,
		MoneyTarget:   c.Game.MoneyTarget,
		TimeTargetSec: c.Game.TimeTargetSec,
	}
}
