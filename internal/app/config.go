package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germainsafari/image-editor-backend/internal/platform/envutil"
)

// Config is the process configuration. Values come from an optional YAML file
// pointed at by CONFIG_PATH, with environment variables taking precedence over
// anything the file sets.
type Config struct {
	LogMode       string   `yaml:"log_mode"`
	HTTPAddr      string   `yaml:"http_addr"`
	DBPath        string   `yaml:"db_path"`
	CORSOrigins   []string `yaml:"cors_origins"`
	SweepInterval time.Duration
	SweepSeconds  int `yaml:"sweep_interval_seconds"`
}

func defaultConfig() Config {
	return Config{
		LogMode:      "development",
		HTTPAddr:     ":8080",
		DBPath:       "editor.db",
		SweepSeconds: 300,
	}
}

// LoadConfig resolves the effective configuration. A missing CONFIG_PATH file
// is an error; an unset CONFIG_PATH just means env-and-defaults.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.LogMode = envutil.Str("LOG_MODE", cfg.LogMode)
	cfg.HTTPAddr = envutil.Str("HTTP_ADDR", cfg.HTTPAddr)
	if port := envutil.Str("PORT", ""); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.DBPath = envutil.Str("EDITOR_DB_PATH", cfg.DBPath)
	if origins := envutil.Str("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitOrigins(origins)
	}
	cfg.SweepSeconds = envutil.Int("REMOTE_SWEEP_INTERVAL_SECONDS", cfg.SweepSeconds)
	if cfg.SweepSeconds < 0 {
		cfg.SweepSeconds = 0
	}
	cfg.SweepInterval = time.Duration(cfg.SweepSeconds) * time.Second

	return cfg, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
