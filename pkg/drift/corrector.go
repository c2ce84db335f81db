package drift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/store"
)

var log = logrus.WithField("component", "drift")

var (
	ErrInsufficientData = errors.New("drift: insufficient data")
	ErrTrackAnalysis    = errors.New("drift: track analysis failed")
)

// FallbackConfidence is the most the file size estimator reports, for a
// recording of at least fallbackMinDuration without concealed frames.
// Concealment lowers it proportionally, and a difference beyond the stretch
// range is a gap in the stream rather than clock drift, so it scores zero.
const (
	FallbackConfidence  = 0.75
	fallbackMinDuration = time.Minute
)

var maxPlausibleDriftMs = (MaxStretch - 1) * 1000

// Storage is the subset of the session directory the corrector touches.
type Storage interface {
	OpenPCM(file string) (io.ReadCloser, error)
	Create(file string) (io.WriteCloser, error)
	Remove(file string) error
	PCMSize(file string) (int64, error)
	ReadTrackStats(meta *store.TrackMetadata) (*store.TrackStats, error)
}

type TrackInput struct {
	Metadata *store.TrackMetadata
	// Timeline is nil once the live session is gone.
	Timeline *Timeline
}

type Result struct {
	Metadata  *store.TrackMetadata
	File      string
	Info      Info
	Factor    float64
	Corrected bool
	Err       error
}

type Corrector struct {
	storage  Storage
	renderer Renderer
}

func NewCorrector(storage Storage, renderer Renderer) *Corrector {
	return &Corrector{storage: storage, renderer: renderer}
}

// EstimateFromFileSize compares the recorded duration with the wall-clock
// span of the track. It is coarse: silence insertion and pauses in the
// stream look like clock drift here, so the confidence comes from the
// track's stats.
func EstimateFromFileSize(pcmBytes int64, format pcm.Format, wall time.Duration, stats *store.TrackStats) (Info, error) {
	if wall <= 0 {
		return Info{}, fmt.Errorf("%w: wall duration %s", ErrInsufficientData, wall)
	}
	recorded := format.Duration(pcmBytes)
	info := Info{
		DriftMs: float64(recorded-wall) / float64(wall) * 1000,
		Samples: int(pcmBytes / int64(format.FrameBytes())),
	}
	info.Confidence = fallbackConfidence(info.DriftMs, wall, stats)
	return info, nil
}

func fallbackConfidence(driftMs float64, wall time.Duration, stats *store.TrackStats) float64 {
	if wall < fallbackMinDuration || stats == nil || stats.Frames <= 0 {
		return 0
	}
	if math.Abs(driftMs) > maxPlausibleDriftMs {
		return 0
	}
	concealed := lo.Min([]int{stats.SilenceFrames + stats.DecodeFailures, stats.Frames})
	return FallbackConfidence * (1 - float64(concealed)/float64(stats.Frames))
}

func (c *Corrector) Analyze(t TrackInput) (Info, error) {
	if t.Timeline != nil && t.Timeline.Len() >= MinSamples {
		return Detect(t.Timeline), nil
	}

	meta := t.Metadata
	if meta.SampleRate <= 0 {
		return Info{}, fmt.Errorf("%w: %s: sample rate %d", ErrTrackAnalysis, meta.Name(), meta.SampleRate)
	}
	stats, err := c.storage.ReadTrackStats(meta)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrTrackAnalysis, meta.Name(), err)
	}
	size, err := c.storage.PCMSize(meta.PCMFile)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrTrackAnalysis, meta.Name(), err)
	}
	wall := stats.EndTimeHR.Time().Sub(meta.StartTimeHR.Time())
	info, err := EstimateFromFileSize(size, pcm.Format(meta.SampleRate), wall, stats)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrTrackAnalysis, meta.Name(), err)
	}
	return info, nil
}

// Correct writes a stretched copy of the track and returns its file name.
func (c *Corrector) Correct(ctx context.Context, meta *store.TrackMetadata, factor float64) (string, error) {
	size, err := c.storage.PCMSize(meta.PCMFile)
	if err != nil {
		return "", err
	}
	src, err := c.storage.OpenPCM(meta.PCMFile)
	if err != nil {
		return "", err
	}
	defer src.Close()

	file := store.CorrectedFileName(meta.PCMFile)
	dst, err := c.storage.Create(file)
	if err != nil {
		return "", err
	}

	if _, err := c.renderer.Stretch(ctx, dst, src, size, factor); err != nil {
		dst.Close()
		c.remove(file)
		return "", fmt.Errorf("drift: stretch %s: %w", meta.PCMFile, err)
	}
	if err := dst.Close(); err != nil {
		c.remove(file)
		return "", err
	}
	return file, nil
}

// remove drops a partial corrected file so it is never mistaken for a
// finished one.
func (c *Corrector) remove(file string) {
	if err := c.storage.Remove(file); err != nil {
		log.WithError(err).WithField("file", file).Warn("Failed to remove partial corrected file")
	}
}

// AnalyzeAndCorrectSession corrects every track whose drift is significant
// with confidence above BatchConfidence. A failing track keeps its original
// file and never stops the batch.
func (c *Corrector) AnalyzeAndCorrectSession(ctx context.Context, tracks []TrackInput) []Result {
	results := make([]Result, 0, len(tracks))
	for _, t := range tracks {
		results = append(results, c.correctTrack(ctx, t))
	}
	return results
}

func (c *Corrector) correctTrack(ctx context.Context, t TrackInput) Result {
	res := Result{Metadata: t.Metadata, File: t.Metadata.PCMFile, Factor: 1.0}
	fields := logrus.Fields{"user_id": t.Metadata.UserID, "ssrc": t.Metadata.SSRC}

	info, err := c.Analyze(t)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Drift analysis failed, using original track")
		res.Err = err
		return res
	}
	res.Info = info
	fields["drift_ms"] = info.DriftMs
	fields["confidence"] = info.Confidence

	if !info.Significant() || info.Confidence <= BatchConfidence {
		log.WithFields(fields).Debug("No drift correction needed")
		return res
	}

	factor := StretchFactor(info.DriftMs)
	fields["factor"] = factor

	file, err := c.Correct(ctx, t.Metadata, factor)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Drift correction failed, using original track")
		res.Err = fmt.Errorf("%w: %s: %v", ErrTrackAnalysis, t.Metadata.Name(), err)
		return res
	}

	log.WithFields(fields).Info("Drift corrected")
	res.File = file
	res.Factor = factor
	res.Corrected = true
	return res
}
