// Package config loads tottagd settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	BLE      BLEConfig      `yaml:"ble"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	NATS     NATSConfig     `yaml:"nats"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type BLEConfig struct {
	ProductName      string        `yaml:"product_name"`
	ScanWindow       time.Duration `yaml:"scan_window"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

type StorageConfig struct {
	Directory string `yaml:"directory"`
	Timezone  string `yaml:"timezone"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type MQTTConfig struct {
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8081"},
		BLE: BLEConfig{
			ProductName:      "TotTag",
			ScanWindow:       5 * time.Second,
			ConnectTimeout:   3 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{Directory: "downloads", Timezone: "UTC"},
		MQTT:    MQTTConfig{ClientID: "tottagd", TopicPrefix: "tottag"},
		NATS:    NATSConfig{SubjectPrefix: "tottag"},
	}
}

// Load builds the configuration. path may be empty; a missing .env is ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.LogLevel, "LOG_LEVEL")
	set(&cfg.HTTP.Addr, "HTTP_ADDR")
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Storage.Directory, "TOTTAG_STORAGE_DIR")
	set(&cfg.Storage.Timezone, "TOTTAG_TIMEZONE")
	set(&cfg.MQTT.URL, "MQTT_URL")
	set(&cfg.NATS.URL, "NATS_URL")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if c.BLE.ScanWindow <= 0 || c.BLE.ConnectTimeout <= 0 || c.BLE.OperationTimeout <= 0 {
		return errors.New("ble timeouts must be positive")
	}
	if c.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1, got %d", c.MQTT.QoS)
	}
	if _, err := time.LoadLocation(c.Storage.Timezone); err != nil {
		return fmt.Errorf("storage.timezone: %w", err)
	}
	return nil
}
