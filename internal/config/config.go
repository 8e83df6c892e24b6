// Package config loads the simulator's YAML configuration file and fills
// in defaults for anything left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BergLucas/microbit-go-simulator/internal/radio"
)

// Config is the root configuration for a microbit-sim process.
type Config struct {
	Radio      RadioConfig      `yaml:"radio"`
	Sync       SyncConfig       `yaml:"sync"`
	Fabric     FabricConfig     `yaml:"fabric"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RadioConfig mirrors radio.Config on the wire, plus the base port the
// radio's accept loop tries first.
type RadioConfig struct {
	BasePort int    `yaml:"base_port"`
	Length   int    `yaml:"length"`
	Queue    int    `yaml:"queue"`
	Channel  int    `yaml:"channel"`
	Power    int    `yaml:"power"`
	Address  uint32 `yaml:"address"`
	Group    int    `yaml:"group"`
	DataRate int    `yaml:"data_rate"`
}

// ToRadioConfig converts the YAML-loaded fields into a radio.Config.
func (c RadioConfig) ToRadioConfig() radio.Config {
	return radio.Config{
		Length:   c.Length,
		Queue:    c.Queue,
		Channel:  c.Channel,
		Power:    c.Power,
		Address:  c.Address,
		Group:    c.Group,
		DataRate: c.DataRate,
	}
}

// SyncConfig configures the synchronisation server this process either
// embeds or connects to.
type SyncConfig struct {
	Enabled   bool     `yaml:"enabled"`
	SyncPort  int      `yaml:"sync_port"`
	DataPort  int      `yaml:"data_port"`
	TargetIPs []string `yaml:"target_ips"`
	Interval  int      `yaml:"interval_seconds"`
	Debug     bool     `yaml:"debug"`
}

// FabricConfig configures the alternative websocket broker topology.
type FabricConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// PrometheusConfig configures the optional metrics endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// MQTTConfig configures the optional radio-traffic MQTT bridge.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Topic        string `yaml:"topic"`
	MetricsTopic string `yaml:"metrics_topic"`
}

// LoggingConfig is a debug toggle plus an optional log file path.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
}

// Load reads and parses filename, then applies defaults for any field left
// at its YAML zero value.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in unset fields from radio.DefaultConfig and the
// simulator's own conventional defaults.
func (c *Config) applyDefaults() {
	def := radio.DefaultConfig()

	if c.Radio.BasePort == 0 {
		c.Radio.BasePort = 17000
	}
	if c.Radio.Length == 0 {
		c.Radio.Length = def.Length
	}
	if c.Radio.Queue == 0 {
		c.Radio.Queue = def.Queue
	}
	if c.Radio.Channel == 0 {
		c.Radio.Channel = def.Channel
	}
	if c.Radio.Power == 0 {
		c.Radio.Power = def.Power
	}
	if c.Radio.Address == 0 {
		c.Radio.Address = def.Address
	}
	if c.Radio.DataRate == 0 {
		c.Radio.DataRate = def.DataRate
	}
	// Group legitimately defaults to 0; the YAML zero value already
	// matches radio.DefaultConfig() for it.

	if c.Sync.SyncPort == 0 {
		c.Sync.SyncPort = 17100
	}
	if c.Sync.DataPort == 0 {
		c.Sync.DataPort = 17101
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1
	}

	if c.Fabric.Listen == "" {
		c.Fabric.Listen = ":17200"
	}

	if c.Prometheus.Path == "" {
		c.Prometheus.Path = "/metrics"
	}
	if c.Prometheus.Listen == "" {
		c.Prometheus.Listen = ":9101"
	}
}
