package jitter

import (
	"sync"
	"time"

	"github.com/channel-io/go-voicesync/pkg/rtpheader"
)

// PacketBuffer feeds parsed RTP packets of a single SSRC into a Buffer and
// restarts the buffer when the SSRC changes.
type PacketBuffer struct {
	sync.Mutex

	buffer    FrameBuffer
	estimator *Estimator
	ssrc      uint32
	marked    bool
}

func NewPacketBuffer(clockRate int64, listener Listener) *PacketBuffer {
	return &PacketBuffer{
		buffer:    NewBuffer(listener),
		estimator: NewEstimator(clockRate),
	}
}

func (p *PacketBuffer) init(packet *rtpheader.Packet) {
	p.buffer.Clear()
	p.estimator.Reset()
	p.ssrc = packet.Header.SSRC
	p.marked = true
}

func (p *PacketBuffer) Put(packet *rtpheader.Packet) bool {
	p.Lock()
	defer p.Unlock()

	if !p.marked || p.ssrc != packet.Header.SSRC {
		p.init(packet)
	}

	p.estimator.Update(packet.Arrival, packet.Header.Timestamp)

	return p.buffer.Buffer(&Packet{
		Data:      packet.Payload,
		Sequence:  packet.Header.SequenceNumber,
		Timestamp: packet.Header.Timestamp,
		SSRC:      packet.Header.SSRC,
		Arrival:   packet.Arrival,
	})
}

func (p *PacketBuffer) Flush(now time.Time) []*Frame {
	return p.buffer.Flush(now)
}

func (p *PacketBuffer) Drain() []*Frame {
	return p.buffer.Drain()
}

func (p *PacketBuffer) Clear() {
	p.Lock()
	defer p.Unlock()

	p.buffer.Clear()
	p.marked = false
}

func (p *PacketBuffer) SSRC() uint32 {
	p.Lock()
	defer p.Unlock()
	return p.ssrc
}

func (p *PacketBuffer) Jitter() time.Duration {
	return p.estimator.Jitter()
}

func (p *PacketBuffer) JitterExceeded() bool {
	return p.estimator.Exceeded()
}
