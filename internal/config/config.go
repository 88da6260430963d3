package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the client configuration, read from MEDIVAULT_* variables.
type Config struct {
	APIURL          string
	RealtimeURL     string
	DBPath          string
	LogLevel        string
	LogFormat       string
	StoreKey        string
	MetricsAddr     string
	HTTPTimeout     time.Duration
	ReconnectBase   time.Duration
	ReconnectCap    time.Duration
	ReconnectMax    int
	RefreshInterval time.Duration
}

// Load reads the environment, falling back to a .env file in the working
// directory for variables that are not set.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is not an
// error. Variables already in the environment take precedence.
func LoadFile(path string) (Config, error) {
	fileEnv := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		switch {
		case err == nil:
			fileEnv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return parse(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileEnv[key])
	})
}

func parse(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:          "http://localhost:5000/api",
		DBPath:          "medivault.db",
		LogLevel:        "info",
		LogFormat:       "text",
		HTTPTimeout:     15 * time.Second,
		ReconnectBase:   time.Second,
		ReconnectCap:    5 * time.Second,
		ReconnectMax:    5,
		RefreshInterval: 5 * time.Minute,
	}
	var invalid []string

	if v := getenv("MEDIVAULT_API_URL"); v != "" {
		if u, err := url.Parse(v); err != nil || u.Scheme == "" || u.Host == "" {
			invalid = append(invalid, "MEDIVAULT_API_URL")
		} else {
			cfg.APIURL = strings.TrimRight(v, "/")
		}
	}

	cfg.RealtimeURL = realtimeURLFor(cfg.APIURL)
	if v := getenv("MEDIVAULT_REALTIME_URL"); v != "" {
		if u, err := url.Parse(v); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			invalid = append(invalid, "MEDIVAULT_REALTIME_URL")
		} else {
			cfg.RealtimeURL = v
		}
	}

	if v := getenv("MEDIVAULT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if v := strings.ToLower(getenv("MEDIVAULT_LOG_LEVEL")); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = v
		default:
			invalid = append(invalid, "MEDIVAULT_LOG_LEVEL")
		}
	}

	if v := strings.ToLower(getenv("MEDIVAULT_LOG_FORMAT")); v != "" {
		if v != "text" && v != "json" {
			invalid = append(invalid, "MEDIVAULT_LOG_FORMAT")
		} else {
			cfg.LogFormat = v
		}
	}

	cfg.StoreKey = getenv("MEDIVAULT_STORE_KEY")
	cfg.MetricsAddr = getenv("MEDIVAULT_METRICS_ADDR")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MEDIVAULT_HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"MEDIVAULT_RECONNECT_BASE", &cfg.ReconnectBase},
		{"MEDIVAULT_RECONNECT_CAP", &cfg.ReconnectCap},
		{"MEDIVAULT_REFRESH_INTERVAL", &cfg.RefreshInterval},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, d.key)
			continue
		}
		*d.dst = parsed
	}

	if v := getenv("MEDIVAULT_RECONNECT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid = append(invalid, "MEDIVAULT_RECONNECT_MAX")
		} else {
			cfg.ReconnectMax = n
		}
	}

	if cfg.ReconnectCap < cfg.ReconnectBase {
		invalid = append(invalid, "MEDIVAULT_RECONNECT_CAP")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// realtimeURLFor derives the websocket endpoint from the REST base:
// http://host/api becomes ws://host/ws.
func realtimeURLFor(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String()
}
