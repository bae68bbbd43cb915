// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
)

// DefaultPath is the config file the binaries read unless told otherwise.
const DefaultPath = "chartplotter_config.txt"

// Environment variables override file values: AISCP_MAP_ZOOM → MAP_ZOOM.
const envPrefix = "AISCP"

// Config holds all application configuration values.
type Config struct {
	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// AIS
	AISSource         string `mapstructure:"ais_source"` // "websocket", "nmea" or "mock"
	AISStreamURL      string `mapstructure:"ais_stream_url"`
	AISAPIKey         string `mapstructure:"ais_api_key"`
	AISMMSI           string `mapstructure:"ais_mmsi"`
	AISReconnectDelay int    `mapstructure:"ais_reconnect_delay"` // milliseconds
	AISNoDataTimeout  int    `mapstructure:"ais_no_data_timeout"` // milliseconds
	AISSerialPort     string `mapstructure:"ais_serial_port"`
	AISBaudRate       uint   `mapstructure:"ais_baud_rate"`

	// Tiles
	TileURLTemplate string `mapstructure:"tile_url_template"`
	TileUserAgent   string `mapstructure:"tile_user_agent"`
	TileTimeout     int    `mapstructure:"tile_timeout"` // milliseconds

	// Map
	MapZoom              int     `mapstructure:"map_zoom"`
	MapColumns           int     `mapstructure:"map_columns"`
	MapRows              int     `mapstructure:"map_rows"`
	MapCenterColumn      int     `mapstructure:"map_center_column"`
	MapCenterRow         int     `mapstructure:"map_center_row"`
	MarkerSize           int     `mapstructure:"marker_size"`
	DefaultLatitude      float64 `mapstructure:"default_latitude"`
	DefaultLongitude     float64 `mapstructure:"default_longitude"`
	UpdateInterval       int     `mapstructure:"update_interval"`        // milliseconds
	PositionSaveDistance float64 `mapstructure:"position_save_distance"` // metres

	// Storage and outputs
	StorePath          string `mapstructure:"store_path"`
	FramebufferDevice  string `mapstructure:"framebuffer_device"`    // empty disables
	StatusPanelI2CAddr uint16 `mapstructure:"status_panel_i2c_addr"` // 0 disables

	// MQTT
	MQTTBroker     string `mapstructure:"mqtt_broker"`
	MQTTClientID   string `mapstructure:"mqtt_client_id"`
	TopicAISFix    string `mapstructure:"topic_ais_fix"`
	TopicAISStatus string `mapstructure:"topic_ais_status"`

	// Web Server
	WebServerPort int `mapstructure:"web_server_port"` // 0 disables
}

var defaults = map[string]any{
	"log_level":  "info",
	"log_format": "text",

	"ais_source":          "websocket",
	"ais_stream_url":      ais.DefaultStreamURL,
	"ais_api_key":         "",
	"ais_mmsi":            "",
	"ais_reconnect_delay": 5000,
	"ais_no_data_timeout": 10000,
	"ais_serial_port":     "/dev/ttyUSB0",
	"ais_baud_rate":       38400,

	"tile_url_template": "http://tile.openstreetmap.org/{zoom}/{x}/{y}.png",
	"tile_user_agent":   "ais-chartplotter/1.0",
	"tile_timeout":      5000,

	"map_zoom":               11,
	"map_columns":            4,
	"map_rows":               2,
	"map_center_column":      1,
	"map_center_row":         0,
	"marker_size":            16,
	"default_latitude":       55.48720,
	"default_longitude":      12.59740,
	"update_interval":        1000,
	"position_save_distance": 50,

	"store_path":            "chartplotter.db",
	"framebuffer_device":    "",
	"status_panel_i2c_addr": 0,

	"mqtt_broker":      "tcp://localhost:1883",
	"mqtt_client_id":   "ais-chartplotter",
	"topic_ais_fix":    "marine/ais/fix",
	"topic_ais_status": "marine/ais/status",

	"web_server_port": 8080,
}

// Package-level singleton: InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads KEY=VALUE lines from configPath on top of the defaults and
// applies AISCP_ environment overrides. An empty path skips the file.
// Unknown keys in the file are an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.AISSource = strings.ToLower(strings.TrimSpace(cfg.AISSource))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	switch c.AISSource {
	case "websocket":
		if c.AISStreamURL == "" {
			add("AIS_STREAM_URL is required")
		}
		if c.AISAPIKey == "" {
			add("AIS_API_KEY is required for the websocket source")
		}
	case "nmea":
		if c.AISSerialPort == "" {
			add("AIS_SERIAL_PORT is required for the nmea source")
		}
		if c.AISBaudRate == 0 {
			add("AIS_BAUD_RATE is required for the nmea source")
		}
	case "mock":
	default:
		add("AIS_SOURCE must be websocket, nmea or mock, got %q", c.AISSource)
	}
	if c.AISMMSI != "" {
		if err := ais.ValidateMMSI(c.AISMMSI); err != nil {
			add("AIS_MMSI: %v", err)
		}
	}
	if c.AISReconnectDelay <= 0 {
		add("AIS_RECONNECT_DELAY must be positive")
	}
	if c.AISNoDataTimeout <= 0 {
		add("AIS_NO_DATA_TIMEOUT must be positive")
	}

	for _, ph := range []string{"{zoom}", "{x}", "{y}"} {
		if !strings.Contains(c.TileURLTemplate, ph) {
			add("TILE_URL_TEMPLATE must contain %s", ph)
		}
	}
	if c.TileUserAgent == "" {
		add("TILE_USER_AGENT is required")
	}
	if c.TileTimeout <= 0 {
		add("TILE_TIMEOUT must be positive")
	}

	if c.MapZoom < 0 || c.MapZoom > 20 {
		add("MAP_ZOOM must be 0-20, got %d", c.MapZoom)
	}
	if c.MapColumns < 1 || c.MapRows < 1 {
		add("MAP_COLUMNS and MAP_ROWS must be at least 1, got %dx%d", c.MapColumns, c.MapRows)
	} else if c.MapCenterColumn < 0 || c.MapCenterColumn >= c.MapColumns ||
		c.MapCenterRow < 0 || c.MapCenterRow >= c.MapRows {
		add("MAP_CENTER_COLUMN/MAP_CENTER_ROW (%d,%d) outside the %dx%d grid",
			c.MapCenterColumn, c.MapCenterRow, c.MapColumns, c.MapRows)
	}
	if c.MarkerSize < 1 || c.MarkerSize > 256 {
		add("MARKER_SIZE must be 1-256, got %d", c.MarkerSize)
	}
	if c.DefaultLatitude < -90 || c.DefaultLatitude > 90 {
		add("DEFAULT_LATITUDE must be -90..90, got %g", c.DefaultLatitude)
	}
	if c.DefaultLongitude < -180 || c.DefaultLongitude > 180 {
		add("DEFAULT_LONGITUDE must be -180..180, got %g", c.DefaultLongitude)
	}
	if c.UpdateInterval <= 0 {
		add("UPDATE_INTERVAL must be positive")
	}
	if c.PositionSaveDistance < 0 {
		add("POSITION_SAVE_DISTANCE must not be negative")
	}

	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		add("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration { return ms(c.AISReconnectDelay) }
func (c *Config) NoDataTimeout() time.Duration  { return ms(c.AISNoDataTimeout) }
func (c *Config) TileTimeoutDuration() time.Duration {
	return ms(c.TileTimeout)
}
func (c *Config) UpdatePeriod() time.Duration { return ms(c.UpdateInterval) }

// InitGlobal initializes the global configuration from file. Only the first
// call loads anything.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
