package jitter

import "time"

const (
	TargetDelay   = 150 * time.Millisecond
	MaxJitter     = 60 * time.Millisecond
	FrameDuration = 20 * time.Millisecond
)

// SilenceFrame is the Opus encoding of a 20ms silent frame.
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

type Packet struct {
	Data      []byte
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	Arrival   time.Time
}

type Frame struct {
	Data      []byte
	Sequence  uint16
	Extended  int64
	Timestamp uint32
	Arrival   time.Time
	Silence   bool
}

var _ FrameBuffer = (*Buffer)(nil)

type FrameBuffer interface {
	Buffer(p *Packet) bool
	ShouldFlush(now time.Time) bool
	Flush(now time.Time) []*Frame
	Drain() []*Frame
	Clear()
}
