package track

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/channel-io/go-voicesync/pkg/pcm"
)

var ErrDecodeFailure = errors.New("track: decode failure")

// Decoder turns one encoded frame into interleaved s16le stereo PCM.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// OpusDecoder wraps libopus. Mono packets are upmixed by libopus itself since
// the decoder always runs with two output channels.
type OpusDecoder struct {
	dec    *opus.Decoder
	format pcm.Format
}

func NewOpusDecoder(format pcm.Format) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(format.SampleRate(), pcm.Channels)
	if err != nil {
		return nil, fmt.Errorf("track: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, format: format}, nil
}

func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	duration, err := packetDuration(frame)
	if err != nil {
		return nil, err
	}

	samples := int(time.Duration(d.format.SampleRate()) * duration / time.Second)
	buf := make([]int16, samples*pcm.Channels)

	n, err := d.dec.Decode(frame, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	out := make([]byte, 0, n*pcm.Channels*pcm.SampleBytes)
	for _, s := range buf[:n*pcm.Channels] {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out, nil
}

// frame sizes per TOC configuration, RFC 6716 section 3.1
var configDurations = [32]time.Duration{
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
}

func packetDuration(frame []byte) (time.Duration, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("%w: empty frame", ErrDecodeFailure)
	}
	toc := frame[0]
	d := configDurations[toc>>3]

	switch toc & 0x03 {
	case 0:
		return d, nil
	case 1, 2:
		return 2 * d, nil
	default:
		if len(frame) < 2 {
			return 0, fmt.Errorf("%w: missing frame count", ErrDecodeFailure)
		}
		count := time.Duration(frame[1] & 0x3F)
		if count == 0 {
			return 0, fmt.Errorf("%w: zero frame count", ErrDecodeFailure)
		}
		return count * d, nil
	}
}
