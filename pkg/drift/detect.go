package drift

import (
	"math"

	"github.com/samber/lo"
)

const (
	MinSamples = 100

	// Threshold is the smallest drift, in ms per second, worth correcting.
	Threshold = 10.0

	MinStretch = 0.95
	MaxStretch = 1.05

	BatchConfidence   = 0.7
	MonitorConfidence = 0.5
)

// Info is a drift estimate in milliseconds of divergence per second of
// elapsed wall-clock time.
type Info struct {
	DriftMs    float64
	Confidence float64
	Samples    int
}

// Significant reports whether the drift is at or above Threshold.
func (i Info) Significant() bool {
	return math.Abs(i.DriftMs) >= Threshold
}

// Detect fits media time against arrival time with ordinary least squares.
// Timelines shorter than MinSamples report zero drift with zero confidence.
func Detect(tl *Timeline) Info {
	samples := tl.Samples()
	n := len(samples)
	if n < MinSamples || tl.SampleRate <= 0 {
		return Info{Samples: n}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)

	first := samples[0]
	var ext int64 // unwrapped media clock relative to the first sample
	prev := first.Timestamp
	for i, s := range samples {
		ext += int64(int32(s.Timestamp - prev))
		prev = s.Timestamp

		xs[i] = float64(s.Arrival.Sub(first.Arrival).Nanoseconds()) / 1e6
		ys[i] = float64(ext) * 1000 / float64(tl.SampleRate)
	}

	slope, r2, ok := regress(xs, ys)
	if !ok {
		return Info{Samples: n}
	}

	return Info{
		DriftMs:    (slope - 1.0) * 1000,
		Confidence: r2,
		Samples:    n,
	}
}

// regress returns the least squares slope and coefficient of determination.
func regress(xs, ys []float64) (slope, r2 float64, ok bool) {
	n := float64(len(xs))
	meanX := lo.Sum(xs) / n
	meanY := lo.Sum(ys) / n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return 0, 0, false
	}
	slope = sxy / sxx
	intercept := meanY - slope*meanX

	var ssTot, ssRes float64
	for i := range ys {
		dy := ys[i] - meanY
		ssTot += dy * dy
		r := ys[i] - (slope*xs[i] + intercept)
		ssRes += r * r
	}
	if ssTot == 0 {
		return slope, 1.0, true
	}
	return slope, lo.Clamp(1-ssRes/ssTot, 0, 1), true
}

// ClampStretch bounds a stretch factor so correction never changes a
// track's duration by more than 5%.
func ClampStretch(raw float64) float64 {
	return lo.Clamp(raw, MinStretch, MaxStretch)
}

// StretchFactor is the duration multiplier that cancels driftMs.
func StretchFactor(driftMs float64) float64 {
	return ClampStretch(1.0 - driftMs/1000)
}
