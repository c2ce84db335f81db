package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huandu/go-assert"

	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/timeline"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	a := assert.New(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	a.NilError(err)
	a.Equal(cfg.DataDir, Default().DataDir)
	a.Equal(cfg.Recording.SampleRate, 48000)
	a.Equal(cfg.IndexPath(), filepath.Join("recordings", ".index"))
}

func TestLoadOverridesDefaults(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	a.NilError(os.WriteFile(path, []byte(`
data_dir: /var/lib/voicesync
log_level: debug
drift:
  interval: 10s
  correct: false
mix:
  format: mp3
  quality: low
  denoise: true
`), 0o644))

	cfg, err := Load(path)
	a.NilError(err)
	a.Equal(cfg.DataDir, "/var/lib/voicesync")
	a.Equal(cfg.Listen, "127.0.0.1:8470")

	interval, err := cfg.MonitorInterval()
	a.NilError(err)
	a.Equal(interval, 10*time.Second)

	opts := cfg.SessionOptions()
	a.Equal(opts.Format, pcm.DefaultFormat)
	a.Assert(opts.MonitorDrift)
	a.Assert(!opts.CorrectDrift)

	mix, err := cfg.MixOptions()
	a.NilError(err)
	a.Equal(mix.Format, timeline.MP3)
	a.Equal(mix.Quality, timeline.Low)
	a.Assert(mix.Denoise)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"format":   "mix:\n  format: wav\n",
		"interval": "drift:\n  interval: soon\n",
		"level":    "log_level: chatty\n",
		"rate":     "recording:\n  sample_rate: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			a := assert.New(t)
			path := filepath.Join(t.TempDir(), DefaultConfigFile)
			a.NilError(os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			a.NonNilError(err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), "nested", DefaultConfigFile)
	cfg, err := Load(path)
	a.NilError(err)
	cfg.Listen = ":9000"
	a.NilError(cfg.Save())

	loaded, err := Load(path)
	a.NilError(err)
	a.Equal(loaded.Listen, ":9000")
	a.Equal(loaded.Mix, cfg.Mix)
}
