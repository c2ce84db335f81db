// Package config loads the recorder's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/session"
	"github.com/channel-io/go-voicesync/pkg/timeline"
	"github.com/channel-io/go-voicesync/pkg/track"
)

const DefaultConfigFile = "voicesync.yaml"

type Config struct {
	// DataDir holds one directory per recorded session.
	DataDir string `yaml:"data_dir"`
	// IndexDir holds the session index. Defaults to DataDir/.index.
	IndexDir string `yaml:"index_dir,omitempty"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Recording Recording `yaml:"recording"`
	Drift     Drift     `yaml:"drift"`
	Mix       Mix       `yaml:"mix"`

	path string
}

type Recording struct {
	SampleRate int `yaml:"sample_rate"`
	QueueSize  int `yaml:"queue_size"`
}

type Drift struct {
	Monitor bool `yaml:"monitor"`
	// Interval is a Go duration string such as "30s".
	Interval string `yaml:"interval"`
	Correct  bool   `yaml:"correct"`
}

type Mix struct {
	Format    string `yaml:"format"`
	Quality   string `yaml:"quality"`
	Denoise   bool   `yaml:"denoise"`
	Normalize bool   `yaml:"normalize"`
}

func Default() *Config {
	return &Config{
		DataDir:  "recordings",
		Listen:   "127.0.0.1:8470",
		LogLevel: "info",
		Recording: Recording{
			SampleRate: int(pcm.DefaultFormat),
			QueueSize:  track.DefaultQueueSize,
		},
		Drift: Drift{
			Monitor:  true,
			Interval: drift.MonitorInterval.String(),
			Correct:  true,
		},
		Mix: Mix{
			Format:  string(timeline.FLAC),
			Quality: string(timeline.High),
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config: no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

func (c *Config) Path() string {
	return c.path
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Recording.SampleRate <= 0 {
		return fmt.Errorf("invalid sample_rate %d", c.Recording.SampleRate)
	}
	if _, err := c.MonitorInterval(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	_, err := c.MixOptions()
	return err
}

func (c *Config) IndexPath() string {
	if c.IndexDir != "" {
		return c.IndexDir
	}
	return filepath.Join(c.DataDir, ".index")
}

func (c *Config) MonitorInterval() (time.Duration, error) {
	if c.Drift.Interval == "" {
		return drift.MonitorInterval, nil
	}
	d, err := time.ParseDuration(c.Drift.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid drift interval: %w", err)
	}
	return d, nil
}

func (c *Config) SessionOptions() session.Options {
	interval, _ := c.MonitorInterval()
	return session.Options{
		Format:          pcm.Format(c.Recording.SampleRate),
		QueueSize:       c.Recording.QueueSize,
		MonitorDrift:    c.Drift.Monitor,
		MonitorInterval: interval,
		CorrectDrift:    c.Drift.Correct,
	}
}

func (c *Config) MixOptions() (timeline.Options, error) {
	format, err := timeline.ParseOutputFormat(c.Mix.Format)
	if err != nil {
		return timeline.Options{}, err
	}
	quality, err := timeline.ParseQuality(c.Mix.Quality)
	if err != nil {
		return timeline.Options{}, err
	}
	return timeline.Options{
		Format:    format,
		Quality:   quality,
		Denoise:   c.Mix.Denoise,
		Normalize: c.Mix.Normalize,
	}, nil
}

// ApplyLogLevel sets the global logrus level.
func (c *Config) ApplyLogLevel() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
