package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mockexam/livefeed/internal/applog"
	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/notify"
)

var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration that reads and writes as "1s", "250ms" etc.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// plain numbers are milliseconds
		var ms int64
		if err2 := json.Unmarshal(b, &ms); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	URL    string `json:"url"`    // websocket endpoint, http(s) or ws(s)
	APIURL string `json:"apiUrl"` // REST base for collection refetches
}

type ReconnectConfig struct {
	MaxAttempts int      `json:"maxAttempts"`
	Delay       Duration `json:"delay"`
	Jitter      float64  `json:"jitter"` // fraction of delay, 0 to 1
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Desktop bool   `json:"desktop"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type CacheConfig struct {
	DBPath          string   `json:"dbPath"`
	RefreshInterval Duration `json:"refreshInterval"`
}

type RelayConfig struct {
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	JWTSecret string   `json:"jwtSecret"`
	TokenTTL  Duration `json:"tokenTTL"`
}

type Config struct {
	Server        ServerConfig        `json:"server"`
	Reconnect     ReconnectConfig     `json:"reconnect"`
	Notifications NotificationsConfig `json:"notifications"`
	Cache         CacheConfig         `json:"cache"`
	Relay         RelayConfig         `json:"relay"`
	LogDir        string              `json:"logDir"`
	LogLevel      string              `json:"logLevel"`
	LogFormat     string              `json:"logFormat"`
}

func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".livefeed")
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			URL:    "ws://localhost:4000/ws",
			APIURL: "http://localhost:4000",
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: conn.DefaultMaxReconnectAttempts,
			Delay:       Duration(conn.DefaultReconnectDelay),
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Desktop: true,
		},
		Cache: CacheConfig{
			DBPath:          filepath.Join(baseDir(), "cache.db"),
			RefreshInterval: Duration(30 * time.Second),
		},
		Relay: RelayConfig{
			Host:     "127.0.0.1",
			Port:     4000,
			TokenTTL: Duration(12 * time.Hour),
		},
		LogDir:    filepath.Join(baseDir(), "logs"),
		LogLevel:  "info",
		LogFormat: applog.FormatText,
	}
}

func DefaultPath() string {
	return filepath.Join(baseDir(), "config.json")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: server.url %q", ErrInvalid, c.Server.URL)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: server.url scheme %q", ErrInvalid, u.Scheme)
	}
	if c.Server.APIURL != "" {
		if a, err := url.Parse(c.Server.APIURL); err != nil || a.Host == "" {
			return fmt.Errorf("%w: server.apiUrl %q", ErrInvalid, c.Server.APIURL)
		}
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("%w: reconnect.maxAttempts must be at least 1", ErrInvalid)
	}
	if c.Reconnect.Delay < 0 {
		return fmt.Errorf("%w: reconnect.delay must not be negative", ErrInvalid)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("%w: reconnect.jitter must be between 0 and 1", ErrInvalid)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("%w: relay.port %d", ErrInvalid, c.Relay.Port)
	}
	switch c.LogFormat {
	case "", applog.FormatText, applog.FormatJSON:
	default:
		return fmt.Errorf("%w: logFormat %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

func (c Config) ConnOptions() conn.Options {
	return conn.Options{
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		ReconnectDelay:       c.Reconnect.Delay.Std(),
		Jitter:               c.Reconnect.Jitter,
	}
}

func (c Config) NotifyConfig() notify.Config {
	return notify.Config{
		Enabled: c.Notifications.Enabled,
		Desktop: c.Notifications.Desktop,
		Webhook: c.Notifications.Webhook,
		NtfyURL: c.Notifications.NtfyURL,
	}
}

// EnsureJWTSecret generates a relay signing secret when none is configured
// and writes the config back to path so issued tokens survive restarts.
func EnsureJWTSecret(path string, cfg *Config) error {
	if cfg.Relay.JWTSecret != "" {
		return nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	cfg.Relay.JWTSecret = hex.EncodeToString(b)
	return Save(path, *cfg)
}

func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
