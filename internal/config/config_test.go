package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chartplotter_config.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "# bench setup\nAIS_SOURCE=mock\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MapZoom != 11 || cfg.MapColumns != 4 || cfg.MapRows != 2 {
		t.Fatalf("map = z%d %dx%d", cfg.MapZoom, cfg.MapColumns, cfg.MapRows)
	}
	if cfg.MapCenterColumn != 1 || cfg.MapCenterRow != 0 {
		t.Fatalf("centre = (%d,%d)", cfg.MapCenterColumn, cfg.MapCenterRow)
	}
	if cfg.TileURLTemplate != "http://tile.openstreetmap.org/{zoom}/{x}/{y}.png" {
		t.Fatalf("tile template = %q", cfg.TileURLTemplate)
	}
	if cfg.DefaultLatitude != 55.48720 || cfg.DefaultLongitude != 12.59740 {
		t.Fatalf("default position = %v,%v", cfg.DefaultLatitude, cfg.DefaultLongitude)
	}
	if cfg.ReconnectDelay() != 5*time.Second || cfg.NoDataTimeout() != 10*time.Second {
		t.Fatalf("durations = %v %v", cfg.ReconnectDelay(), cfg.NoDataTimeout())
	}
	if cfg.TileTimeoutDuration() != 5*time.Second || cfg.UpdatePeriod() != time.Second {
		t.Fatalf("durations = %v %v", cfg.TileTimeoutDuration(), cfg.UpdatePeriod())
	}
	if cfg.AISBaudRate != 38400 || cfg.WebServerPort != 8080 || cfg.StatusPanelI2CAddr != 0 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"AIS_SOURCE=websocket",
		"AIS_API_KEY=secret",
		"AIS_MMSI=211234560",
		"MAP_ZOOM=13",
		"MAP_COLUMNS=3",
		"MAP_ROWS=3",
		"MAP_CENTER_COLUMN=1",
		"MAP_CENTER_ROW=1",
		"STATUS_PANEL_I2C_ADDR=0x3D",
		"LOG_FORMAT=JSON",
		"FRAMEBUFFER_DEVICE=/dev/fb0",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AISAPIKey != "secret" || cfg.AISMMSI != "211234560" {
		t.Fatalf("ais = %q %q", cfg.AISAPIKey, cfg.AISMMSI)
	}
	if cfg.MapZoom != 13 || cfg.MapCenterRow != 1 {
		t.Fatalf("map = %+v", cfg)
	}
	if cfg.StatusPanelI2CAddr != 0x3D {
		t.Fatalf("i2c addr = %#x", cfg.StatusPanelI2CAddr)
	}
	if cfg.LogFormat != "json" || cfg.FramebufferDevice != "/dev/fb0" {
		t.Fatalf("log format = %q fb = %q", cfg.LogFormat, cfg.FramebufferDevice)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "AIS_SOURCE=mock\nMAP_ZOOM=9\n")
	t.Setenv("AISCP_MAP_ZOOM", "14")
	t.Setenv("AISCP_WEB_SERVER_PORT", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MapZoom != 14 || cfg.WebServerPort != 0 {
		t.Fatalf("zoom = %d port = %d", cfg.MapZoom, cfg.WebServerPort)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("AISCP_AIS_SOURCE", "mock")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AISSource != "mock" {
		t.Fatalf("source = %q", cfg.AISSource)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "AIS_SOURCE=mock\nIMU_SAMPLE_INTERVAL=10\n")); err == nil {
		t.Fatal("unknown key accepted")
	}
	if _, err := Load(writeConfig(t, "AIS_SOURCE=mock\nMAP_ZOOM=eleven\n")); err == nil {
		t.Fatal("non-numeric zoom accepted")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"AIS_SOURCE=websocket",
		"AIS_MMSI=12ab",
		"MAP_ZOOM=25",
		"MAP_CENTER_COLUMN=4",
		"TILE_URL_TEMPLATE=http://tiles/{x}/{y}.png",
		"LOG_LEVEL=loud",
	}, "\n"))

	_, err := Load(path)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{
		"AIS_API_KEY", "AIS_MMSI", "MAP_ZOOM", "MAP_CENTER_COLUMN", "{zoom}", "LOG_LEVEL",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s:\n%v", want, err)
		}
	}
}

func TestValidateSources(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"nmea defaults", "AIS_SOURCE=nmea", true},
		{"nmea without port", "AIS_SOURCE=nmea\nAIS_SERIAL_PORT=", false},
		{"unknown source", "AIS_SOURCE=carrier-pigeon", false},
		{"mock upper case", "AIS_SOURCE=MOCK", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if (err == nil) != tt.ok {
				t.Fatalf("Load = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
