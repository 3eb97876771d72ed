package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrMissingPassword is returned when MONITOR_PASSWORD is not set. The
// server must never start listening without a shared secret.
var ErrMissingPassword = errors.New("MONITOR_PASSWORD environment variable is required")

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`

	// Password is the shared secret for dashboard connections and the
	// HTTP basic-auth gate. Environment only, never from the file.
	Password string `yaml:"-"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MonitorConfig struct {
	// MaxDashboards caps concurrent dashboard connections. 0 = unlimited.
	MaxDashboards int `yaml:"max_dashboards"`
	// SendBuffer is the per-connection outgoing message buffer.
	SendBuffer int `yaml:"send_buffer"`
	// DashboardDir serves the dashboard page from the filesystem when
	// no embedded frontend is built in.
	DashboardDir string `yaml:"dashboard_dir"`
}

// Load reads the yaml config at path, then applies environment
// overrides. A missing config file is not an error: the original
// deployment is configured entirely through the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: 3000,
			Host: "0.0.0.0",
		},
		Monitor: MonitorConfig{
			SendBuffer: 64,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = n
	}

	cfg.Password = os.Getenv("MONITOR_PASSWORD")
	if cfg.Password == "" {
		return nil, ErrMissingPassword
	}

	return cfg, nil
}
