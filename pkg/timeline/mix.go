package timeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/store"
)

type OutputFormat string

const (
	FLAC OutputFormat = "flac"
	MP3  OutputFormat = "mp3"
	Opus OutputFormat = "opus"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FLAC, MP3, Opus:
		return f, nil
	}
	return "", fmt.Errorf("timeline: unknown output format %q", s)
}

// Extension is the output file extension, without the dot.
func (f OutputFormat) Extension() string {
	if f == Opus {
		return "ogg"
	}
	return string(f)
}

type Quality string

const (
	Low    Quality = "low"
	Medium Quality = "medium"
	High   Quality = "high"
)

func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(s)); q {
	case Low, Medium, High:
		return q, nil
	}
	return "", fmt.Errorf("timeline: unknown quality %q", s)
}

var codecArgs = map[OutputFormat]map[Quality][]string{
	FLAC: {
		Low:    {"-c:a", "flac", "-compression_level", "0"},
		Medium: {"-c:a", "flac", "-compression_level", "5"},
		High:   {"-c:a", "flac", "-compression_level", "8"},
	},
	MP3: {
		Low:    {"-c:a", "libmp3lame", "-b:a", "96k"},
		Medium: {"-c:a", "libmp3lame", "-b:a", "192k"},
		High:   {"-c:a", "libmp3lame", "-b:a", "320k"},
	},
	Opus: {
		Low:    {"-c:a", "libopus", "-b:a", "48k"},
		Medium: {"-c:a", "libopus", "-b:a", "96k"},
		High:   {"-c:a", "libopus", "-b:a", "160k"},
	},
}

type Options struct {
	Format    OutputFormat
	Quality   Quality
	Denoise   bool
	Normalize bool

	// Dir resolves relative track files.
	Dir string
	// Files replaces a track's PCM file, keyed by track name. Drift
	// correction uses it to substitute corrected renditions.
	Files map[string]string
}

type Input struct {
	File       string
	SampleRate int
	Channels   int
}

// Filter is one stage of the mix graph.
type Filter struct {
	Inputs  []string
	Name    string
	Params  [][2]string
	Outputs []string
}

func (f Filter) String() string {
	var sb strings.Builder
	for _, in := range f.Inputs {
		sb.WriteString("[" + in + "]")
	}
	sb.WriteString(f.Name)
	for i, p := range f.Params {
		if i == 0 {
			sb.WriteByte('=')
		} else {
			sb.WriteByte(':')
		}
		if p[0] == "" {
			sb.WriteString(p[1])
		} else {
			sb.WriteString(p[0] + "=" + p[1])
		}
	}
	for _, out := range f.Outputs {
		sb.WriteString("[" + out + "]")
	}
	return sb.String()
}

// MixSpec describes a mix for an external engine. It is never executed here.
type MixSpec struct {
	Inputs  []Input
	Delays  []int64
	Filters []Filter
	Format  OutputFormat
	Quality Quality
}

const mixOutput = "out"

// Plan builds the mix of tracks, aligned on their earliest start.
func Plan(tracks []*store.TrackMetadata, opts Options) (*MixSpec, error) {
	if len(tracks) == 0 {
		return nil, ErrNoTracksFound
	}
	if opts.Format == "" {
		opts.Format = FLAC
	}
	if opts.Quality == "" {
		opts.Quality = High
	}
	if _, ok := codecArgs[opts.Format][opts.Quality]; !ok {
		return nil, fmt.Errorf("timeline: unsupported output %s/%s", opts.Format, opts.Quality)
	}

	spec := &MixSpec{
		Delays:  Delays(tracks),
		Format:  opts.Format,
		Quality: opts.Quality,
	}

	mixInputs := make([]string, 0, len(tracks))
	for i, t := range tracks {
		file := t.PCMFile
		if f, ok := opts.Files[t.Name()]; ok {
			file = f
		}
		if opts.Dir != "" && !filepath.IsAbs(file) {
			file = filepath.Join(opts.Dir, file)
		}
		rate := t.DecodedSampleRate
		if rate == 0 {
			rate = pcm.DefaultFormat.SampleRate()
		}
		spec.Inputs = append(spec.Inputs, Input{File: file, SampleRate: rate, Channels: pcm.Channels})

		label := "a" + strconv.Itoa(i)
		delay := strconv.FormatInt(spec.Delays[i], 10)
		spec.Filters = append(spec.Filters, Filter{
			Inputs:  []string{strconv.Itoa(i) + ":a"},
			Name:    "adelay",
			Params:  [][2]string{{"delays", delay}, {"all", "1"}},
			Outputs: []string{label},
		})
		mixInputs = append(mixInputs, label)
	}

	normalize := "0"
	if opts.Normalize {
		normalize = "1"
	}
	last := "mix"
	spec.Filters = append(spec.Filters, Filter{
		Inputs: mixInputs,
		Name:   "amix",
		Params: [][2]string{
			{"inputs", strconv.Itoa(len(tracks))},
			{"duration", "longest"},
			{"dropout_transition", "0"},
			{"normalize", normalize},
		},
		Outputs: []string{last},
	})

	if opts.Denoise {
		spec.Filters = append(spec.Filters, Filter{
			Inputs:  []string{last},
			Name:    "afftdn",
			Outputs: []string{"denoised"},
		})
		last = "denoised"
	}

	spec.Filters = append(spec.Filters,
		Filter{
			Inputs:  []string{last},
			Name:    "aresample",
			Params:  [][2]string{{"async", "1"}},
			Outputs: []string{"resampled"},
		},
		Filter{
			Inputs:  []string{"resampled"},
			Name:    "asetpts",
			Params:  [][2]string{{"", "N/SR/TB"}},
			Outputs: []string{mixOutput},
		},
	)
	return spec, nil
}

// FilterGraph renders the filters as a filter_complex expression.
func (m *MixSpec) FilterGraph() string {
	parts := make([]string, len(m.Filters))
	for i, f := range m.Filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ";")
}

// Count returns how many stages use the named filter.
func (m *MixSpec) Count(name string) int {
	n := 0
	for _, f := range m.Filters {
		if f.Name == name {
			n++
		}
	}
	return n
}

// Args renders the ffmpeg command line that writes the mix to output.
func (m *MixSpec) Args(output string) []string {
	args := []string{"-hide_banner", "-y"}
	for _, in := range m.Inputs {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(in.SampleRate),
			"-ac", strconv.Itoa(in.Channels),
			"-i", in.File,
		)
	}
	args = append(args, "-filter_complex", m.FilterGraph(), "-map", "["+mixOutput+"]")
	args = append(args, codecArgs[m.Format][m.Quality]...)
	return append(args, output)
}

func (m *MixSpec) String() string {
	return "ffmpeg " + strings.Join(m.Args("output."+m.Format.Extension()), " ")
}
