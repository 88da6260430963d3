package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"MEDIVAULT_API_URL",
	"MEDIVAULT_REALTIME_URL",
	"MEDIVAULT_DB_PATH",
	"MEDIVAULT_LOG_LEVEL",
	"MEDIVAULT_LOG_FORMAT",
	"MEDIVAULT_STORE_KEY",
	"MEDIVAULT_METRICS_ADDR",
	"MEDIVAULT_HTTP_TIMEOUT",
	"MEDIVAULT_RECONNECT_BASE",
	"MEDIVAULT_RECONNECT_CAP",
	"MEDIVAULT_RECONNECT_MAX",
	"MEDIVAULT_REFRESH_INTERVAL",
}

// clearEnv unsets every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://localhost:5000/api" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.RealtimeURL != "ws://localhost:5000/ws" {
		t.Errorf("RealtimeURL = %q", cfg.RealtimeURL)
	}
	if cfg.HTTPTimeout != 15*time.Second || cfg.ReconnectBase != time.Second || cfg.ReconnectCap != 5*time.Second || cfg.ReconnectMax != 5 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log defaults = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIVAULT_API_URL", "https://medivault.example.com/api/")
	t.Setenv("MEDIVAULT_LOG_LEVEL", "DEBUG")
	t.Setenv("MEDIVAULT_LOG_FORMAT", "json")
	t.Setenv("MEDIVAULT_RECONNECT_MAX", "0")
	t.Setenv("MEDIVAULT_REFRESH_INTERVAL", "90s")
	t.Setenv("MEDIVAULT_STORE_KEY", "device-secret")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://medivault.example.com/api" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.RealtimeURL != "wss://medivault.example.com/ws" {
		t.Errorf("RealtimeURL = %q", cfg.RealtimeURL)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ReconnectMax != 0 {
		t.Errorf("ReconnectMax = %d, want 0", cfg.ReconnectMax)
	}
	if cfg.RefreshInterval != 90*time.Second {
		t.Errorf("RefreshInterval = %v", cfg.RefreshInterval)
	}
	if cfg.StoreKey != "device-secret" {
		t.Errorf("StoreKey = %q", cfg.StoreKey)
	}
}

func TestInvalidValuesAggregated(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIVAULT_API_URL", "not a url")
	t.Setenv("MEDIVAULT_HTTP_TIMEOUT", "soon")
	t.Setenv("MEDIVAULT_RECONNECT_MAX", "-1")
	t.Setenv("MEDIVAULT_LOG_FORMAT", "xml")

	_, err := LoadFile("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"MEDIVAULT_API_URL", "MEDIVAULT_HTTP_TIMEOUT", "MEDIVAULT_RECONNECT_MAX", "MEDIVAULT_LOG_FORMAT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestCapBelowBase(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIVAULT_RECONNECT_BASE", "10s")
	if _, err := LoadFile(""); err == nil || !strings.Contains(err.Error(), "MEDIVAULT_RECONNECT_CAP") {
		t.Errorf("err = %v, want RECONNECT_CAP invalid", err)
	}
}

func TestEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "MEDIVAULT_DB_PATH=/var/lib/medivault/client.db\nMEDIVAULT_REALTIME_URL=ws://rt.example.com/socket\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MEDIVAULT_DB_PATH", "/tmp/override.db")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, environment should win", cfg.DBPath)
	}
	if cfg.RealtimeURL != "ws://rt.example.com/socket" {
		t.Errorf("RealtimeURL = %q, want value from file", cfg.RealtimeURL)
	}
}

func TestMissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}
