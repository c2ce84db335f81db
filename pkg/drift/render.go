package drift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/channel-io/go-voicesync/pkg/pcm"
)

// Renderer re-renders a PCM stream so its duration is multiplied by factor.
type Renderer interface {
	Stretch(ctx context.Context, dst io.Writer, src io.Reader, srcBytes int64, factor float64) (int64, error)
}

// ResampleRenderer stretches by resampling; the pitch shift stays below a
// semitone inside the allowed stretch range.
type ResampleRenderer struct {
	Format pcm.Format
}

func (r ResampleRenderer) Stretch(ctx context.Context, dst io.Writer, src io.Reader, srcBytes int64, factor float64) (int64, error) {
	if factor <= 0 {
		return 0, fmt.Errorf("drift: invalid stretch factor %f", factor)
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(r.Format.SampleRate()),
		OutputRate: float64(r.Format.SampleRate()) * factor,
		Channels:   pcm.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return 0, fmt.Errorf("drift: create resampler: %w", err)
	}

	frameBytes := int64(r.Format.FrameBytes())
	target := int64(math.Round(float64(srcBytes)*factor/float64(frameBytes))) * frameBytes

	var written int64
	emit := func(b []byte) error {
		if rest := target - written; int64(len(b)) > rest {
			b = b[:rest]
		}
		n, err := dst.Write(b)
		written += int64(n)
		return err
	}

	buf := make([]byte, r.Format.BytesInDuration(time.Second))
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := io.ReadFull(src, buf)
		n -= n % (pcm.Channels * pcm.SampleBytes)
		if n > 0 {
			out, err := rs.Process(toFloat(buf[:n]))
			if err != nil {
				return written, fmt.Errorf("drift: resample: %w", err)
			}
			if err := emit(fromFloat(out)); err != nil {
				return written, err
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	// resampler latency leaves the tail short; pad to the stretched length
	if written < target {
		if err := emit(make([]byte, target-written)); err != nil {
			return written, err
		}
	}
	return written, nil
}

func toFloat(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

func fromFloat(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		var s int16
		switch {
		case f >= 1.0:
			s = math.MaxInt16
		case f < -1.0:
			s = math.MinInt16
		default:
			s = int16(f * 32767.0)
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
