package drift

import (
	"math"
	"testing"
	"time"

	"github.com/huandu/go-assert"
)

var t0 = time.Unix(1700000000, 0)

func linearTimeline(n int, start uint32, step float64) *Timeline {
	tl := NewTimeline("alice", 1, 48000)
	for i := 0; i < n; i++ {
		tl.Add(t0.Add(time.Duration(i)*20*time.Millisecond), start+uint32(float64(i)*step))
	}
	return tl
}

func near(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestDetectSynchronized(t *testing.T) {
	info := Detect(linearTimeline(500, 1234, 960))

	assert.Assert(t, near(info.DriftMs, 0, 1e-6))
	assert.Assert(t, near(info.Confidence, 1.0, 1e-9))
	assert.Equal(t, info.Samples, 500)
	assert.Equal(t, info.Significant(), false)
}

func TestDetectInflated(t *testing.T) {
	info := Detect(linearTimeline(500, 0, 960*1.05))

	assert.Assert(t, near(info.DriftMs, 50, 0.5))
	assert.Assert(t, near(info.Confidence, 1.0, 1e-6))
	assert.Equal(t, info.Significant(), true)
}

func TestDetectWraparound(t *testing.T) {
	info := Detect(linearTimeline(500, math.MaxUint32-960*100, 960))

	assert.Assert(t, near(info.DriftMs, 0, 1e-6))
}

func TestDetectInsufficient(t *testing.T) {
	info := Detect(linearTimeline(MinSamples-1, 0, 960))

	assert.Equal(t, info, Info{Samples: MinSamples - 1})
}

func TestDetectDegenerate(t *testing.T) {
	tl := NewTimeline("alice", 1, 48000)
	for i := 0; i < MinSamples; i++ {
		tl.Add(t0, uint32(i*960))
	}
	assert.Equal(t, Detect(tl), Info{Samples: MinSamples})

	flat := NewTimeline("alice", 1, 48000)
	for i := 0; i < MinSamples; i++ {
		flat.Add(t0.Add(time.Duration(i)*time.Millisecond), 42)
	}
	info := Detect(flat)
	assert.Equal(t, info.Confidence, 1.0)
	assert.Assert(t, near(info.DriftMs, -1000, 1e-9))
}

func TestDetectNoisy(t *testing.T) {
	tl := NewTimeline("alice", 1, 48000)
	for i := 0; i < 1000; i++ {
		jitter := time.Duration((i*7919)%40) * time.Millisecond
		tl.Add(t0.Add(time.Duration(i)*20*time.Millisecond+jitter), uint32(i*960))
	}
	info := Detect(tl)

	assert.Assert(t, near(info.DriftMs, 0, 5))
	assert.Assert(t, info.Confidence > 0.9)
	assert.Assert(t, info.Confidence <= 1.0)
}

func TestClampStretch(t *testing.T) {
	assert.Equal(t, ClampStretch(1.2), MaxStretch)
	assert.Equal(t, ClampStretch(0.80), MinStretch)
	assert.Equal(t, ClampStretch(1.01), 1.01)
}

func TestStretchFactor(t *testing.T) {
	assert.Equal(t, StretchFactor(50), MinStretch)
	assert.Equal(t, StretchFactor(-200), MaxStretch)
	assert.Assert(t, near(StretchFactor(20), 0.98, 1e-12))
	assert.Assert(t, near(StretchFactor(-20), 1.02, 1e-12))
}
