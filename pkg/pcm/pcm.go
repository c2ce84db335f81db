// Package pcm describes the raw sample layout of recorded tracks:
// interleaved little-endian 16-bit stereo.
package pcm

import "time"

const (
	Channels      = 2
	SampleBytes   = 2
	FrameDuration = 20 * time.Millisecond
)

// Format is a sample rate for interleaved s16le stereo audio.
type Format int

const DefaultFormat Format = 48000

func (f Format) SampleRate() int {
	return int(f)
}

// FrameBytes is the size of one 20ms frame.
func (f Format) FrameBytes() int {
	return int(f.BytesInDuration(FrameDuration))
}

func (f Format) BytesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f)*d/time.Second) * Channels * SampleBytes
}

func (f Format) Duration(bytes int64) time.Duration {
	samples := bytes / (Channels * SampleBytes)
	return time.Duration(samples) * time.Second / time.Duration(f)
}

// Silence returns n frames of zeroed samples.
func (f Format) Silence(frames int) []byte {
	return make([]byte, frames*f.FrameBytes())
}

// Align pads b with zeros up to a whole number of frames.
func (f Format) Align(b []byte) []byte {
	fb := f.FrameBytes()
	if rem := len(b) % fb; rem != 0 {
		b = append(b, make([]byte, fb-rem)...)
	}
	return b
}
