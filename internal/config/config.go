// Package config loads the site server's settings using Viper from a YAML
// file, LIAMSNOW_ prefixed environment variables and command-line flags.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. LIAMSNOW_SERVER_PORT.
const EnvPrefix = "LIAMSNOW"

// EnvKeyReplacer maps nested keys onto environment names.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Content ContentConfig `mapstructure:"content"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Update  UpdateConfig  `mapstructure:"update"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ContentConfig struct {
	Root         string `mapstructure:"root"`
	BuildCommand string `mapstructure:"build_command"`
}

type WatchConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Debounce       time.Duration `mapstructure:"debounce"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxClients     int           `mapstructure:"max_clients"`
}

type UpdateConfig struct {
	SecretPath string   `mapstructure:"secret_path"`
	Git        string   `mapstructure:"git"`
	Go         string   `mapstructure:"go"`
	BuildArgs  []string `mapstructure:"build_args"`
	WorkDir    string   `mapstructure:"work_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Addr returns the live-reload listen address.
func (w WatchConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3232)
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.timeout", "5s")

	v.SetDefault("content.root", "./content")
	v.SetDefault("content.build_command", "")

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.host", "127.0.0.1")
	v.SetDefault("watch.port", 3233)
	v.SetDefault("watch.debounce", "100ms")
	v.SetDefault("watch.allowed_origins", []string{"localhost:*", "127.0.0.1:*"})
	v.SetDefault("watch.max_clients", 64)

	v.SetDefault("update.secret_path", "")
	v.SetDefault("update.git", "git")
	v.SetDefault("update.go", "go")
	v.SetDefault("update.build_args", []string{"build", "-o", "liamsnow-com", "."})
	v.SetDefault("update.work_dir", ".")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, siteerrors.Wrap(err, siteerrors.ErrorTypeConfig, siteerrors.CodeInvalidSetting, "decoding configuration")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// validateConfig reports every invalid setting at once
func validateConfig(config *Config) error {
	var errs error
	invalid := func(key, format string, args ...interface{}) {
		errs = multierr.Append(errs, siteerrors.NewConfigError(siteerrors.CodeInvalidSetting,
			key+": "+fmt.Sprintf(format, args...)))
	}

	if err := validateHostname(config.Server.Host); err != nil {
		invalid("server.host", "%v", err)
	}
	// 0 asks the OS for a free port
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		invalid("server.port", "%d is not in valid range 0-65535", config.Server.Port)
	}
	if config.Server.Workers < 0 {
		invalid("server.workers", "must not be negative")
	}
	if config.Server.Timeout <= 0 {
		invalid("server.timeout", "must be positive")
	}

	if strings.TrimSpace(config.Content.Root) == "" {
		invalid("content.root", "must not be empty")
	}
	if err := validateCommand(config.Content.BuildCommand); err != nil {
		invalid("content.build_command", "%v", err)
	}

	if config.Watch.Enabled {
		if err := validateHostname(config.Watch.Host); err != nil {
			invalid("watch.host", "%v", err)
		}
		if config.Watch.Port < 0 || config.Watch.Port > 65535 {
			invalid("watch.port", "%d is not in valid range 0-65535", config.Watch.Port)
		}
		if config.Watch.Port != 0 && config.Watch.Port == config.Server.Port && config.Watch.Host == config.Server.Host {
			invalid("watch.port", "collides with server.port")
		}
		if config.Watch.Debounce <= 0 {
			invalid("watch.debounce", "must be positive")
		}
		if config.Watch.MaxClients <= 0 {
			invalid("watch.max_clients", "must be positive")
		}
	}

	if config.Update.Git == "" {
		invalid("update.git", "must not be empty")
	}
	if config.Update.Go == "" {
		invalid("update.go", "must not be empty")
	}
	for _, arg := range config.Update.BuildArgs {
		if err := validateCommand(arg); err != nil {
			invalid("update.build_args", "%v", err)
		}
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		invalid("log.level", "%v", err)
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		invalid("log.format", "%q is not one of text, json", config.Log.Format)
	}

	return errs
}

func validateHostname(host string) error {
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %q", host)
	}
	return nil
}

// Commands are split on whitespace and run without a shell, so shell syntax
// would reach the program as literal arguments.
func validateCommand(command string) error {
	for _, char := range []string{";", "&", "|", "$", "`", "<", ">", "\\", "\"", "'"} {
		if strings.Contains(command, char) {
			return fmt.Errorf("contains shell metacharacter %s", char)
		}
	}
	return nil
}
