// This file defines the configuration structure shared by the client CLI and
// the development backend.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings. It maps directly to the
// structure of config.yml.
type Config struct {
	Server struct {
		URL        string `mapstructure:"url"`
		EventsPath string `mapstructure:"events_path"`
	} `mapstructure:"server"`
	Transport struct {
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		Reconnect         struct {
			Base        time.Duration `mapstructure:"base"`
			Multiplier  float64       `mapstructure:"multiplier"`
			Cap         time.Duration `mapstructure:"cap"`
			MaxAttempts int           `mapstructure:"max_attempts"`
		} `mapstructure:"reconnect"`
	} `mapstructure:"transport"`
	PathGuard struct {
		AllowNetworkPaths bool     `mapstructure:"allow_network_paths"`
		DeniedDirs        []string `mapstructure:"denied_dirs"` // added to the built-in list
		MaxLength         int      `mapstructure:"max_length"`
	} `mapstructure:"pathguard"`
	Watch struct {
		Path       string        `mapstructure:"path"`
		Extensions []string      `mapstructure:"extensions"`
		Debounce   time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Backend struct {
		Port           int           `mapstructure:"port"`
		DatabasePath   string        `mapstructure:"database_path"`
		StatsInterval  time.Duration `mapstructure:"stats_interval"`
		RetentionHours int           `mapstructure:"retention_hours"`
	} `mapstructure:"backend"`
	Client struct {
		MinBackendVersion string `mapstructure:"min_backend_version"`
	} `mapstructure:"client"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://127.0.0.1:8765")
	v.SetDefault("server.events_path", "/ws/events")
	v.SetDefault("transport.heartbeat_interval", "30s")
	v.SetDefault("transport.reconnect.base", "1s")
	v.SetDefault("transport.reconnect.multiplier", 2.0)
	v.SetDefault("transport.reconnect.cap", "30s")
	v.SetDefault("transport.reconnect.max_attempts", 10)
	v.SetDefault("pathguard.allow_network_paths", false)
	v.SetDefault("pathguard.denied_dirs", []string{})
	v.SetDefault("pathguard.max_length", 0)
	v.SetDefault("watch.path", "")
	v.SetDefault("watch.extensions", []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".m4v"})
	v.SetDefault("watch.debounce", "2s")
	v.SetDefault("log.level", "info")
	v.SetDefault("backend.port", 8765)
	v.SetDefault("backend.database_path", "./vidscribe.db")
	v.SetDefault("backend.stats_interval", "10s")
	v.SetDefault("backend.retention_hours", 168)
	v.SetDefault("client.min_backend_version", "")
}

// Load reads config.yml from the current directory or the user config
// directory, or from file when it is non-empty. A missing config.yml is not
// an error; defaults and VIDSCRIBE_ environment variables apply.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "vidscribe"))
		}
	}

	// VIDSCRIBE_SERVER_URL overrides server.url, and so on.
	v.SetEnvPrefix("VIDSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return &cfg
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server.url %q is not an absolute url", c.Server.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url scheme must be http or https, got %q", u.Scheme)
	}
	if !strings.HasPrefix(c.Server.EventsPath, "/") {
		return fmt.Errorf("server.events_path must start with /, got %q", c.Server.EventsPath)
	}
	if c.Transport.HeartbeatInterval < 0 {
		return fmt.Errorf("transport.heartbeat_interval must not be negative")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port %d out of range", c.Backend.Port)
	}
	return nil
}

// EventsURL is the websocket address of the event stream.
func (c *Config) EventsURL() string {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.Server.EventsPath
	u.RawQuery = ""
	return u.String()
}
