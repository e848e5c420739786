// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user config directory.
const AppName = "pomobox"

// Config represents the daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Media      MediaConfig      `yaml:"media"`
	Player     PlayerConfig     `yaml:"player"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:"127.0.0.1:8717" validate:"required,hostname_port"`
	Token string      `yaml:"token"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SessionConfig represents session loop configuration.
type SessionConfig struct {
	StatePath      string `yaml:"state_path"`
	TickIntervalMs int    `yaml:"tick_interval_ms" default:"1000" validate:"gte=10,lte=60000"`
	EventBuffer    int    `yaml:"event_buffer" default:"64" validate:"gte=1,lte=4096"`
	SendTimeoutMs  int    `yaml:"send_timeout_ms" default:"500" validate:"gte=10,lte=10000"`
}

// MediaConfig represents where downloaded media are stored. Relative
// directories are resolved against the config directory.
type MediaConfig struct {
	AudioDir string `yaml:"audio_dir" default:"audio" validate:"required"`
	VideoDir string `yaml:"video_dir" default:"video" validate:"required"`
}

// PlayerConfig represents the media player backend.
type PlayerConfig struct {
	Backend    string   `yaml:"backend" default:"mpv" validate:"oneof=mpv none"`
	Binary     string   `yaml:"binary" default:"mpv"`
	SocketPath string   `yaml:"socket_path"`
	ExtraArgs  []string `yaml:"extra_args"`
}

// DownloaderConfig represents the yt-dlp downloader.
type DownloaderConfig struct {
	Binary             string `yaml:"binary"`
	FFmpeg             string `yaml:"ffmpeg" default:"ffmpeg"`
	ProgressIntervalMs int    `yaml:"progress_interval_ms" default:"500" validate:"gte=50,lte=10000"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stderr"`
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	var cfg Config
	cfg.overrideFromEnv()
	if err := cfg.finalize(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default()
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := cfg.finalize(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize(baseDir string) error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config validation failed")
	}
	if err := c.resolvePaths(baseDir); err != nil {
		return errors.Wrap(err, "failed to resolve paths")
	}
	return nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("POMOBOX_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("POMOBOX_STATE_PATH"); v != "" {
		c.Session.StatePath = v
	}
	if v := os.Getenv("POMOBOX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("POMOBOX_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// resolvePaths fills the derived locations. baseDir is the directory of the
// config file; when empty the per-user config directory is used.
func (c *Config) resolvePaths(baseDir string) error {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return err
		}
		baseDir = dir
	}
	if c.Session.StatePath == "" {
		c.Session.StatePath = filepath.Join(baseDir, "session.yaml")
	}
	if !filepath.IsAbs(c.Media.AudioDir) {
		c.Media.AudioDir = filepath.Join(baseDir, c.Media.AudioDir)
	}
	if !filepath.IsAbs(c.Media.VideoDir) {
		c.Media.VideoDir = filepath.Join(baseDir, c.Media.VideoDir)
	}
	if c.Player.SocketPath == "" {
		c.Player.SocketPath = filepath.Join(os.TempDir(), AppName+"-mpv.sock")
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// TickInterval returns the session tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Session.TickIntervalMs) * time.Millisecond
}

// SendTimeout returns the per-subscriber event delivery timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Session.SendTimeoutMs) * time.Millisecond
}

// ProgressInterval returns how often download progress is reported.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Downloader.ProgressIntervalMs) * time.Millisecond
}

// DefaultDir returns <user config dir>/pomobox.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultPath returns the config file looked up when no path is given.
func DefaultPath() string {
	dir, err := DefaultDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}
