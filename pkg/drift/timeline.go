package drift

import (
	"sync"
	"time"
)

type Sample struct {
	Arrival   time.Time
	Timestamp uint32
}

// Timeline accumulates (arrival, media timestamp) observations for one
// participant stream.
type Timeline struct {
	sync.RWMutex

	UserID     string
	SSRC       uint32
	SampleRate int

	samples []Sample
}

func NewTimeline(userID string, ssrc uint32, sampleRate int) *Timeline {
	return &Timeline{
		UserID:     userID,
		SSRC:       ssrc,
		SampleRate: sampleRate,
	}
}

func (t *Timeline) Add(arrival time.Time, ts uint32) {
	t.Lock()
	defer t.Unlock()
	t.samples = append(t.samples, Sample{Arrival: arrival, Timestamp: ts})
}

func (t *Timeline) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.samples)
}

func (t *Timeline) Samples() []Sample {
	t.RLock()
	defer t.RUnlock()
	return append([]Sample(nil), t.samples...)
}
