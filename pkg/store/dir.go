package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	SessionFile     = "session.json"
	pcmExt          = ".pcm"
	metadataExt     = ".json"
	statsExt        = ".stats.json"
	correctedSuffix = ".corrected"
)

var ErrNotFound = errors.New("store: not found")

// Dir stores one session's tracks on the local filesystem.
type Dir struct {
	root string
}

func OpenDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.root, filepath.FromSlash(name))
}

func PCMFileName(name string) string {
	return name + pcmExt
}

func CorrectedFileName(pcmFile string) string {
	return strings.TrimSuffix(pcmFile, pcmExt) + correctedSuffix + pcmExt
}

// CreatePCM opens an append-only sink for a track's PCM samples.
func (d *Dir) CreatePCM(file string) (io.WriteCloser, error) {
	f, err := os.OpenFile(d.Path(file), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open pcm: %w", err)
	}
	return f, nil
}

// Create opens file for writing, truncating any previous content.
func (d *Dir) Create(file string) (io.WriteCloser, error) {
	f, err := os.Create(d.Path(file))
	if err != nil {
		return nil, fmt.Errorf("store: create %s: %w", file, err)
	}
	return f, nil
}

// Remove deletes file. A missing file is not an error.
func (d *Dir) Remove(file string) error {
	if err := os.Remove(d.Path(file)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", file, err)
	}
	return nil
}

func (d *Dir) OpenPCM(file string) (io.ReadCloser, error) {
	f, err := os.Open(d.Path(file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return f, err
}

func (d *Dir) PCMSize(file string) (int64, error) {
	st, err := os.Stat(d.Path(file))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (d *Dir) WriteTrackMetadata(meta *TrackMetadata) error {
	return d.writeJSON(meta.Name()+metadataExt, meta)
}

func (d *Dir) WriteTrackStats(meta *TrackMetadata, stats *TrackStats) error {
	return d.writeJSON(meta.Name()+statsExt, stats)
}

func (d *Dir) ReadTrackStats(meta *TrackMetadata) (*TrackStats, error) {
	var stats TrackStats
	if err := d.readJSON(meta.Name()+statsExt, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ReadTracks loads every track sidecar in the directory, ordered by start
// time.
func (d *Dir) ReadTracks() ([]*TrackMetadata, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", d.root, err)
	}

	var tracks []*TrackMetadata
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == SessionFile || !strings.HasSuffix(name, metadataExt) || strings.HasSuffix(name, statsExt) {
			continue
		}
		var meta TrackMetadata
		if err := d.readJSON(name, &meta); err != nil {
			return nil, err
		}
		tracks = append(tracks, &meta)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].StartMillis() < tracks[j].StartMillis()
	})
	return tracks, nil
}

func (d *Dir) WriteSession(meta *SessionMetadata) error {
	return d.writeJSON(SessionFile, meta)
}

func (d *Dir) ReadSession() (*SessionMetadata, error) {
	var meta SessionMetadata
	if err := d.readJSON(SessionFile, &meta); err != nil {
		return nil, err
	}
	meta.Dir = d.root
	return &meta, nil
}

func (d *Dir) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	tmp := d.Path(name + ".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return os.Rename(tmp, d.Path(name))
}

func (d *Dir) readJSON(name string, v any) error {
	data, err := os.ReadFile(d.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", name, err)
	}
	return nil
}
