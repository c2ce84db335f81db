package jitter

import (
	"sync"
	"time"
)

// Estimator tracks RFC 3550 interarrival jitter for one stream.
type Estimator struct {
	sync.Mutex

	clockRate int64

	marked      bool
	lastArrival time.Time
	lastTs      uint32

	jitter float64 // milliseconds
}

func NewEstimator(clockRate int64) *Estimator {
	return &Estimator{clockRate: clockRate}
}

func (e *Estimator) Update(arrival time.Time, ts uint32) {
	e.Lock()
	defer e.Unlock()

	if !e.marked {
		e.marked = true
		e.lastArrival = arrival
		e.lastTs = ts
		return
	}

	arrivalDelta := float64(arrival.Sub(e.lastArrival)) / float64(time.Millisecond)
	tsDelta := float64(int32(ts-e.lastTs)) * 1000 / float64(e.clockRate)

	d := arrivalDelta - tsDelta
	if d < 0 {
		d = -d
	}
	e.jitter += (d - e.jitter) / 16

	e.lastArrival = arrival
	e.lastTs = ts
}

func (e *Estimator) Jitter() time.Duration {
	e.Lock()
	defer e.Unlock()
	return time.Duration(e.jitter * float64(time.Millisecond))
}

func (e *Estimator) Reset() {
	e.Lock()
	defer e.Unlock()

	e.marked = false
	e.jitter = 0
}

// Exceeded reports whether the estimate is above the tolerated jitter.
func (e *Estimator) Exceeded() bool {
	return e.Jitter() > MaxJitter
}
