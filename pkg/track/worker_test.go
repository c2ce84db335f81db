package track

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/huandu/go-assert"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/rtpheader"
	"github.com/channel-io/go-voicesync/pkg/store"
)

type memStorage struct {
	mu    sync.Mutex
	pcm   map[string]*bytes.Buffer
	meta  []*store.TrackMetadata
	stats []*store.TrackStats
}

func newMemStorage() *memStorage {
	return &memStorage{pcm: map[string]*bytes.Buffer{}}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (s *memStorage) CreatePCM(file string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := &bytes.Buffer{}
	s.pcm[file] = buf
	return nopCloser{buf}, nil
}

func (s *memStorage) WriteTrackMetadata(meta *store.TrackMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = append(s.meta, meta)
	return nil
}

func (s *memStorage) WriteTrackStats(meta *store.TrackMetadata, stats *store.TrackStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stats
	s.stats = append(s.stats, &cp)
	return nil
}

// byteDecoder fills a frame with the first payload byte; payload 0xff fails.
type byteDecoder struct{}

func (byteDecoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] == 0xff {
		return nil, ErrDecodeFailure
	}
	return bytes.Repeat(frame[:1], pcm.DefaultFormat.FrameBytes()), nil
}

func packet(seq uint16, payload byte, arrival time.Time) *rtpheader.Packet {
	return packetFrom(42, seq, payload, arrival)
}

func packetFrom(ssrc uint32, seq uint16, payload byte, arrival time.Time) *rtpheader.Packet {
	return &rtpheader.Packet{
		Header: rtpheader.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           ssrc,
		},
		Payload: []byte{payload},
		Arrival: arrival,
	}
}

// newTestWorker uses an hour-long tick so only Stop emits audio.
func newTestWorker(s Storage) *Worker {
	return NewWorker(Config{UserID: "alice", Tick: time.Hour}, s, byteDecoder{})
}

func frameValues(data []byte) []byte {
	fb := pcm.DefaultFormat.FrameBytes()
	var out []byte
	for i := 0; i+fb <= len(data); i += fb {
		out = append(out, data[i])
	}
	return out
}

func Test_worker_ordersOutOfOrderPackets(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()

	now := time.Now()
	for _, seq := range []uint16{3, 1, 2, 5, 4} {
		a.Assert(w.Push(packet(seq, byte(seq), now)))
	}
	w.Stop()

	a.Equal(w.State(), Stopped)
	data := s.pcm["alice-42.pcm"].Bytes()
	a.Equal(len(data)%pcm.DefaultFormat.FrameBytes(), 0)
	a.Equal(frameValues(data), []byte{1, 2, 3, 4, 5})

	meta := w.Metadata()
	a.Equal(meta.SSRC, uint32(42))
	a.Equal(meta.StartTimestamp, uint32(3*960))
	a.Equal(meta.PCMFile, "alice-42.pcm")
	a.Equal(len(s.meta), 1)
}

func Test_worker_silenceForGapsAndDecodeFailures(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()

	now := time.Now()
	w.Push(packet(10, 1, now))
	w.Push(packet(11, 0xff, now))
	w.Push(packet(14, 4, now))
	w.Stop()

	a.Equal(frameValues(s.pcm["alice-42.pcm"].Bytes()), []byte{1, 0, 0, 0, 4})

	stats := w.Stats()
	a.Equal(stats.Packets, 3)
	a.Equal(stats.Frames, 5)
	a.Equal(stats.SilenceFrames, 2)
	a.Equal(stats.DecodeFailures, 1)
	a.Equal(stats.BytesWritten, int64(5*pcm.DefaultFormat.FrameBytes()))
}

func Test_worker_stopIsIdempotent(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()

	w.Push(packet(1, 1, time.Now()))
	w.Stop()
	w.Stop()

	a.Equal(len(s.stats), 1)
	a.Assert(!w.Push(packet(2, 2, time.Now())))
}

func Test_worker_stopWithoutPackets(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()
	w.Stop()

	a.Equal(w.State(), Stopped)
	a.Assert(w.Metadata() == nil)
	a.Equal(len(s.stats), 0)
	a.Equal(len(s.pcm), 0)
}

func Test_worker_metadataHookAndTimeline(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()

	var hooked *store.TrackMetadata
	var tl *drift.Timeline
	w := NewWorker(Config{
		UserID: "bob",
		Tick:   time.Hour,
		OnMetadata: func(meta *store.TrackMetadata, timeline *drift.Timeline) {
			hooked, tl = meta, timeline
		},
	}, s, byteDecoder{})
	w.Start()

	now := time.Now()
	for i := uint16(0); i < 10; i++ {
		w.Push(packet(i, 1, now.Add(time.Duration(i)*20*time.Millisecond)))
	}
	w.Stop()

	a.Assert(hooked != nil)
	a.Equal(hooked.UserID, "bob")
	a.Equal(tl, w.Timeline())
	a.Equal(tl.Len(), 10)
}

func Test_worker_tickFlushes(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := NewWorker(Config{UserID: "carol", Tick: time.Millisecond}, s, byteDecoder{})
	w.Start()

	w.Push(packet(1, 7, time.Now().Add(-time.Second)))

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != Flushing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	a.Equal(w.State(), Flushing)
	w.Stop()

	stats := w.Stats()
	a.Assert(stats.Frames >= 1)
	a.Equal(stats.BytesWritten%int64(pcm.DefaultFormat.FrameBytes()), int64(0))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Close() error              { return nil }

type failingStorage struct{ *memStorage }

func (failingStorage) CreatePCM(string) (io.WriteCloser, error) { return failingWriter{}, nil }

func Test_worker_writeFailureStillStops(t *testing.T) {
	a := assert.New(t)
	s := failingStorage{newMemStorage()}
	w := newTestWorker(s)
	w.Start()

	w.Push(packet(1, 1, time.Now()))
	w.Push(packet(2, 2, time.Now()))
	w.Stop()

	a.Equal(w.Stats().BytesWritten, int64(0))
	a.Equal(len(s.stats), 1)
}

func Test_fit(t *testing.T) {
	a := assert.New(t)
	w := newTestWorker(newMemStorage())
	fb := pcm.DefaultFormat.FrameBytes()

	a.Equal(len(w.fit(make([]byte, 10))), fb)
	a.Equal(len(w.fit(make([]byte, 5000))), fb)
	a.Equal(len(w.fit(make([]byte, fb))), fb)
	a.Equal(w.fit(nil), pcm.DefaultFormat.Silence(1))
}

func Test_worker_ssrcChangeStartsNewTrack(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()

	now := time.Now()
	for seq := uint16(1); seq <= 5; seq++ {
		w.Push(packetFrom(42, seq, byte(seq), now))
	}
	later := now.Add(time.Second)
	w.Push(packetFrom(43, 100, 9, later))
	w.Push(packetFrom(42, 6, 6, later)) // straggler of the old stream
	w.Push(packetFrom(43, 101, 8, later))
	w.Stop()

	a.Equal(frameValues(s.pcm["alice-42.pcm"].Bytes()), []byte{1, 2, 3, 4, 5})
	a.Equal(frameValues(s.pcm["alice-43.1.pcm"].Bytes()), []byte{9, 8})

	tracks := w.Tracks()
	a.Equal(len(tracks), 2)
	a.Equal(tracks[0].Metadata.SSRC, uint32(42))
	a.Equal(tracks[0].Stats.Packets, 5)
	a.Equal(tracks[0].Timeline.Len(), 5)
	a.Equal(tracks[1].Metadata.SSRC, uint32(43))
	a.Equal(tracks[1].Metadata.Segment, 1)
	a.Equal(tracks[1].Metadata.StartTimestamp, uint32(100*960))
	a.Assert(tracks[1].Metadata.StartTimeHR.Time().Equal(later))
	a.Equal(tracks[1].Stats.Packets, 2)
	a.Equal(tracks[1].Stats.LatePackets, 1)
	a.Equal(tracks[1].Timeline.Len(), 2)

	a.Equal(w.Metadata(), tracks[1].Metadata)
	a.Equal(len(s.meta), 2)
	a.Equal(len(s.stats), 2)
}

func Test_worker_sharedSegmentCounter(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	next := 0
	segment := func() int {
		next++
		return next - 1
	}

	now := time.Now()
	for i := 0; i < 2; i++ {
		w := NewWorker(Config{UserID: "alice", Tick: time.Hour, NextSegment: segment}, s, byteDecoder{})
		w.Start()
		w.Push(packet(1, 1, now.Add(time.Duration(i)*10*time.Second)))
		w.Stop()
	}

	a.Equal(len(s.meta), 2)
	a.Equal(s.meta[0].PCMFile, "alice-42.pcm")
	a.Equal(s.meta[1].PCMFile, "alice-42.1.pcm")
	a.Equal(len(s.pcm), 2)
}

func Test_worker_countsMalformedPackets(t *testing.T) {
	a := assert.New(t)
	s := newMemStorage()
	w := newTestWorker(s)
	w.Start()

	w.Push(packet(1, 1, time.Now()))
	w.CountMalformed()
	w.CountMalformed()
	w.Stop()

	a.Equal(w.Stats().MalformedPackets, 2)
	a.Equal(s.stats[0].MalformedPackets, 2)
}
