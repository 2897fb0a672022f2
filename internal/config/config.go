// Package config reads the client settings from the environment, optionally
// seeded by a YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

var ErrMissingToken = errors.New("CLUBCHAT_TOKEN is not set")

type Config struct {
	APIURL string
	WSURL  string
	Token  string

	HistoryLimit      int
	HTTPTimeout       time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts uint64
	PendingTimeout    time.Duration
	// SendRate is the number of messages allowed per minute.
	SendRate int

	PreviewAddr string

	LogLevel  string
	LogFormat string
	LogSink   string
}

// File is the YAML form of Config. Durations are Go duration strings.
type File struct {
	APIURL            string `yaml:"api_url"`
	WSURL             string `yaml:"ws_url"`
	Token             string `yaml:"token"`
	HistoryLimit      int    `yaml:"history_limit"`
	HTTPTimeout       string `yaml:"http_timeout"`
	ReconnectBase     string `yaml:"reconnect_base"`
	ReconnectMax      string `yaml:"reconnect_max"`
	ReconnectAttempts uint64 `yaml:"reconnect_attempts"`
	PendingTimeout    string `yaml:"pending_timeout"`
	SendRate          int    `yaml:"send_rate"`
	PreviewAddr       string `yaml:"preview_addr"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	LogSink           string `yaml:"log_sink"`
}

func Default() *Config {
	return &Config{
		APIURL:         "http://localhost:8000",
		HistoryLimit:   50,
		HTTPTimeout:    10 * time.Second,
		ReconnectBase:  500 * time.Millisecond,
		ReconnectMax:   30 * time.Second,
		PendingTimeout: 15 * time.Second,
		SendRate:       30,
		LogLevel:       "info",
		LogFormat:      "text",
		LogSink:        "stderr",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CLUBCHAT_CONFIG if any, then CLUBCHAT_* variables. When only the token is
// missing, the config is returned together with ErrMissingToken.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CLUBCHAT_CONFIG"); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.apply(f); err != nil {
			return nil, fmt.Errorf("internal/config: %s: %w", path, err)
		}
	}

	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, ErrMissingToken) {
			return cfg, err
		}
		return nil, err
	}
	return cfg, nil
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("internal/config: failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("internal/config: failed to parse config file: %w", err)
	}
	return &f, nil
}

func (c *Config) apply(f *File) error {
	setString(&c.APIURL, f.APIURL)
	setString(&c.WSURL, f.WSURL)
	setString(&c.Token, f.Token)
	setString(&c.PreviewAddr, f.PreviewAddr)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
	setString(&c.LogSink, f.LogSink)
	if f.HistoryLimit > 0 {
		c.HistoryLimit = f.HistoryLimit
	}
	if f.SendRate != 0 {
		c.SendRate = f.SendRate
	}
	if f.ReconnectAttempts > 0 {
		c.ReconnectAttempts = f.ReconnectAttempts
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http_timeout", f.HTTPTimeout, &c.HTTPTimeout},
		{"reconnect_base", f.ReconnectBase, &c.ReconnectBase},
		{"reconnect_max", f.ReconnectMax, &c.ReconnectMax},
		{"pending_timeout", f.PendingTimeout, &c.PendingTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) fromEnv() error {
	c.APIURL = getEnv("CLUBCHAT_API_URL", c.APIURL)
	c.WSURL = getEnv("CLUBCHAT_WS_URL", c.WSURL)
	c.Token = getEnv("CLUBCHAT_TOKEN", c.Token)
	c.PreviewAddr = getEnv("CLUBCHAT_PREVIEW_ADDR", c.PreviewAddr)
	c.LogLevel = getEnv("CLUBCHAT_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("CLUBCHAT_LOG_FORMAT", c.LogFormat)
	c.LogSink = getEnv("CLUBCHAT_LOG_SINK", c.LogSink)

	var err error
	if c.HistoryLimit, err = getIntEnv("CLUBCHAT_HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.SendRate, err = getIntEnv("CLUBCHAT_SEND_RATE", c.SendRate); err != nil {
		return err
	}
	attempts, err := getIntEnv("CLUBCHAT_RECONNECT_ATTEMPTS", int(c.ReconnectAttempts))
	if err != nil {
		return err
	}
	if attempts < 0 {
		return fmt.Errorf("internal/config: CLUBCHAT_RECONNECT_ATTEMPTS must not be negative")
	}
	c.ReconnectAttempts = uint64(attempts)

	if c.HTTPTimeout, err = getDurationEnv("CLUBCHAT_HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	if c.ReconnectBase, err = getDurationEnv("CLUBCHAT_RECONNECT_BASE", c.ReconnectBase); err != nil {
		return err
	}
	if c.ReconnectMax, err = getDurationEnv("CLUBCHAT_RECONNECT_MAX", c.ReconnectMax); err != nil {
		return err
	}
	if c.PendingTimeout, err = getDurationEnv("CLUBCHAT_PENDING_TIMEOUT", c.PendingTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings and derives the socket URL when it was
// left empty. A missing token is reported as ErrMissingToken so callers
// can prompt for one.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("internal/config: CLUBCHAT_API_URL must be an http(s) URL, got %q", c.APIURL)
	}

	if c.WSURL == "" {
		c.WSURL = SocketURL(u)
	} else if ws, err := url.Parse(c.WSURL); err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("internal/config: CLUBCHAT_WS_URL must be a ws(s) URL, got %q", c.WSURL)
	}

	switch {
	case c.HistoryLimit <= 0:
		return fmt.Errorf("internal/config: history limit must be positive")
	case c.HTTPTimeout <= 0:
		return fmt.Errorf("internal/config: http timeout must be positive")
	case c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase:
		return fmt.Errorf("internal/config: reconnect delays must satisfy 0 < base <= max")
	case c.PendingTimeout <= 0:
		return fmt.Errorf("internal/config: pending timeout must be positive")
	}

	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// SocketURL is the chat socket endpoint that belongs to an API base URL.
func SocketURL(api *url.URL) string {
	ws := *api
	ws.Scheme = "ws"
	if api.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path = strings.TrimSuffix(api.Path, "/") + "/api/chat/ws"
	ws.RawQuery = ""
	return ws.String()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("internal/config: %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("internal/config: %s: %w", key, err)
	}
	return d, nil
}
