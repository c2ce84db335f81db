package jitter

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/samber/lo"
)

// 60s of frames; a larger jump means the sender restarted its sequence
const resyncDistance = 3000

type Buffer struct {
	sync.Mutex

	list *skiplist.SkipList // extended sequence -> *Packet

	listener Listener

	expected    int64
	highest     int64
	initialized bool
	emitted     bool
	lastFlush   time.Time

	targetDelay   time.Duration
	frameDuration time.Duration
}

func NewBuffer(listener Listener) *Buffer {
	if listener == nil {
		listener = NullListener{}
	}
	return &Buffer{
		list:          skiplist.New(skiplist.Int64),
		listener:      listener,
		targetDelay:   TargetDelay,
		frameDuration: FrameDuration,
	}
}

func (b *Buffer) init(ext int64) {
	b.list.Init()
	b.expected = ext
	b.highest = ext
	b.initialized = true
	b.emitted = false
}

// unwrap maps a 16-bit sequence number onto the extended sequence space
// closest to the highest sequence seen so far.
func (b *Buffer) unwrap(seq uint16) int64 {
	if !b.initialized {
		return int64(seq)
	}
	delta := int16(seq - uint16(b.highest))
	return b.highest + int64(delta)
}

// Buffer inserts p in sequence order. It reports false when the packet was
// dropped as a duplicate or as late.
func (b *Buffer) Buffer(p *Packet) bool {
	b.Lock()
	defer b.Unlock()

	ext := b.unwrap(p.Sequence)
	if !b.initialized || distance(ext, b.expected) > resyncDistance {
		b.init(ext)
	}

	if ext < b.expected {
		if b.emitted {
			// 이미 재생 위치를 지나간 패킷
			b.listener.OnLatePacket(b.expected, p)
			return false
		}
		b.expected = ext
	}

	if b.list.Get(ext) != nil {
		return false
	}

	b.list.Set(ext, p)
	b.highest = lo.Max([]int64{b.highest, ext})
	b.listener.OnPacketEnqueue(b.expected, p)
	return true
}

func (b *Buffer) ShouldFlush(now time.Time) bool {
	b.Lock()
	defer b.Unlock()

	return b.shouldFlush(now)
}

func (b *Buffer) shouldFlush(now time.Time) bool {
	if front := b.list.Front(); front != nil {
		if now.Sub(front.Value.(*Packet).Arrival) >= b.targetDelay {
			return true
		}
	}
	return b.lastFlush.IsZero() || now.Sub(b.lastFlush) >= b.frameDuration
}

// Flush emits one frame per elapsed frame slot, counted from the arrival of
// the oldest buffered packet. Slots without a buffered packet are filled with
// silence.
func (b *Buffer) Flush(now time.Time) []*Frame {
	b.Lock()
	defer b.Unlock()

	if !b.shouldFlush(now) {
		return nil
	}
	b.lastFlush = now

	front := b.list.Front()
	if front == nil {
		return nil
	}

	elapsed := now.Sub(front.Value.(*Packet).Arrival)
	slots := lo.Max([]int64{int64(elapsed / b.frameDuration), 1})

	frames := make([]*Frame, 0, slots)
	for i := int64(0); i < slots; i++ {
		frames = append(frames, b.take(b.expected+i))
	}
	b.expected += slots
	b.emitted = true

	removeLessThan(b.list, b.expected)
	b.listener.OnPacketDequeue(b.expected, frames)
	return frames
}

// Drain emits every buffered packet in order, filling gaps between them with
// silence.
func (b *Buffer) Drain() []*Frame {
	b.Lock()
	defer b.Unlock()

	if b.list.Len() == 0 {
		return nil
	}

	removeLessThan(b.list, b.expected)

	var frames []*Frame
	for b.list.Len() > 0 {
		frames = append(frames, b.take(b.expected))
		b.expected++
	}
	b.emitted = true

	b.listener.OnPacketDequeue(b.expected, frames)
	return frames
}

func (b *Buffer) take(ext int64) *Frame {
	if el := b.list.Remove(ext); el != nil {
		p := el.Value.(*Packet)
		return &Frame{
			Data:      p.Data,
			Sequence:  p.Sequence,
			Extended:  ext,
			Timestamp: p.Timestamp,
			Arrival:   p.Arrival,
		}
	}

	b.listener.OnPacketLoss(ext)
	return &Frame{
		Data:     SilenceFrame,
		Sequence: uint16(ext),
		Extended: ext,
		Silence:  true,
	}
}

func (b *Buffer) Clear() {
	b.Lock()
	defer b.Unlock()

	b.list.Init()
	b.expected = 0
	b.highest = 0
	b.initialized = false
	b.emitted = false
	b.lastFlush = time.Time{}
}

func (b *Buffer) Len() int {
	b.Lock()
	defer b.Unlock()
	return b.list.Len()
}

func (b *Buffer) Expected() int64 {
	b.Lock()
	defer b.Unlock()
	return b.expected
}

func removeLessThan(list *skiplist.SkipList, seq int64) {
	for {
		front := list.Front()
		if front == nil || front.Key() == nil || front.Key().(int64) >= seq {
			break
		}
		list.RemoveFront()
	}
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
