// Package config loads the binaries' settings from an optional YAML file
// with environment variable overrides, so Lambda deployments can stay
// file-less while local runs keep a checked-in config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds settings shared by the api and worker binaries.
type Config struct {
	ServiceName      string   `yaml:"service_name"`
	RunOnceTable     string   `yaml:"run_once_table"`
	OrdersTable      string   `yaml:"orders_table"`
	QueueURL         string   `yaml:"queue_url"`
	LeaseTTL         Duration `yaml:"lease_ttl"`
	MetricsNamespace string   `yaml:"metrics_namespace"`
	ListenAddr       string   `yaml:"listen_addr"`
}

// Load reads path (when non-empty and present) and applies env overrides on
// top. Missing values fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServiceName:      "orderflow",
		RunOnceTable:     "run_once_record",
		OrdersTable:      "orders",
		LeaseTTL:         Duration(5 * time.Minute),
		MetricsNamespace: "OrderFlow",
		ListenAddr:       ":8080",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("RUN_ONCE_TABLE"); v != "" {
		c.RunOnceTable = v
	}
	if v := os.Getenv("ORDERS_TABLE"); v != "" {
		c.OrdersTable = v
	}
	if v := os.Getenv("ORDERS_QUEUE_URL"); v != "" {
		c.QueueURL = v
	}
	if v := os.Getenv("LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LeaseTTL = Duration(d)
		}
	}
	if v := os.Getenv("METRICS_NAMESPACE"); v != "" {
		c.MetricsNamespace = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}
