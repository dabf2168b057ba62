// Package config holds runtime settings and fixed moderation constants.
// Settings are read from an optional YAML file and then overridden by
// environment variables (a local .env file is loaded first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the bot service.
type Config struct {
	Telegram struct {
		Token      string `yaml:"token"`
		OperatorID int64  `yaml:"operator_id"`
		Language   string `yaml:"language"`
	} `yaml:"telegram"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Outbox struct {
		Size int `yaml:"size"`
	} `yaml:"outbox"`
	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Telegram.Language = "be"
	cfg.Server.Addr = ":8080"
	cfg.Outbox.Size = 256
	return cfg
}

// Load builds the configuration. A missing file at path is not an error;
// path may be empty to skip the file entirely.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BOT_TOKEN", &c.Telegram.Token)
	str("LANGUAGE", &c.Telegram.Language)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("HTTP_ADDR", &c.Server.Addr)
	str("JWT_SECRET", &c.Server.JWTSecret)

	if v, ok := lookup("OPERATOR_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OPERATOR_ID %q: %w", v, err)
		}
		c.Telegram.OperatorID = id
	}
	if v, ok := lookup("OUTBOX_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid OUTBOX_SIZE %q", v)
		}
		c.Outbox.Size = n
	}
	if v, ok := lookup("LOG_DEVELOPMENT"); ok && v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT %q: %w", v, err)
		}
		c.Log.Development = dev
	}
	return nil
}

// Validate reports settings the bot cannot run without.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("BOT_TOKEN is not set")
	}
	if c.Telegram.OperatorID == 0 {
		return errors.New("OPERATOR_ID is not set")
	}
	return nil
}
