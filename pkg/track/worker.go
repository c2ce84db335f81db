package track

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/jitter"
	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/rtpheader"
	"github.com/channel-io/go-voicesync/pkg/store"
)

type State int32

const (
	Created State = iota
	MetadataCaptured
	Flushing
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case MetadataCaptured:
		return "metadata_captured"
	case Flushing:
		return "flushing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

type Storage interface {
	CreatePCM(file string) (io.WriteCloser, error)
	WriteTrackMetadata(meta *store.TrackMetadata) error
	WriteTrackStats(meta *store.TrackMetadata, stats *store.TrackStats) error
}

const DefaultQueueSize = 256

type Config struct {
	UserID    string
	Format    pcm.Format
	QueueSize int

	// Tick defaults to one frame duration.
	Tick time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	// NextSegment numbers the worker's tracks and must not repeat within a
	// session directory. It defaults to a counter local to the worker.
	NextSegment func() int

	// OnMetadata runs on the worker goroutine right after the first packet
	// of a track has been captured.
	OnMetadata func(meta *store.TrackMetadata, tl *drift.Timeline)
}

// Track is one recorded SSRC of the worker's participant. A worker records a
// new track whenever the SSRC changes.
type Track struct {
	Metadata *store.TrackMetadata
	Stats    store.TrackStats
	Timeline *drift.Timeline
}

// Worker owns one participant's jitter buffer and decode pipeline.
type Worker struct {
	cfg     Config
	storage Storage
	decoder Decoder
	log     *logrus.Entry

	buffer *jitter.PacketBuffer

	// current track, nil meta between tracks
	meta         *store.TrackMetadata
	timeline     *drift.Timeline
	sink         *sink
	stats        store.TrackStats
	jitterWarned bool

	tracks []*Track

	packets   chan *rtpheader.Packet
	dropped   atomic.Int64
	malformed atomic.Int64
	state     atomic.Int32

	stopOnce sync.Once
	quit     chan struct{}
	finished chan struct{}
}

func NewWorker(cfg Config, storage Storage, decoder Decoder) *Worker {
	if cfg.Format == 0 {
		cfg.Format = pcm.DefaultFormat
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Tick <= 0 {
		cfg.Tick = jitter.FrameDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NextSegment == nil {
		next := 0
		cfg.NextSegment = func() int {
			next++
			return next - 1
		}
	}

	w := &Worker{
		cfg:      cfg,
		storage:  storage,
		decoder:  decoder,
		log:      logrus.WithFields(logrus.Fields{"component": "track", "user_id": cfg.UserID}),
		packets:  make(chan *rtpheader.Packet, cfg.QueueSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	w.buffer = jitter.NewPacketBuffer(int64(cfg.Format.SampleRate()), statsListener{w: w})
	return w
}

func (w *Worker) Start() {
	go w.run()
}

// Push hands a packet to the worker without blocking. It reports false when
// the packet was dropped because the worker is stopped or its queue is full.
func (w *Worker) Push(p *rtpheader.Packet) bool {
	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.packets <- p:
		return true
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("Packet queue full, dropping packets")
		}
		return false
	}
}

// CountMalformed records a packet of the participant that failed to parse.
func (w *Worker) CountMalformed() {
	w.malformed.Add(1)
}

// Stop performs one final drain and releases the track's resources. Calls
// after the first are no-ops.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.finished
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Tracks lists the recorded tracks in order. It is valid once Stop has
// returned and empty when no packet ever arrived.
func (w *Worker) Tracks() []*Track {
	<-w.finished
	return w.tracks
}

// Metadata of the last track, nil when no packet ever arrived.
func (w *Worker) Metadata() *store.TrackMetadata {
	if last := w.last(); last != nil {
		return last.Metadata
	}
	return nil
}

func (w *Worker) Stats() store.TrackStats {
	if last := w.last(); last != nil {
		return last.Stats
	}
	return store.TrackStats{}
}

func (w *Worker) Timeline() *drift.Timeline {
	if last := w.last(); last != nil {
		return last.Timeline
	}
	return nil
}

func (w *Worker) last() *Track {
	tracks := w.Tracks()
	if len(tracks) == 0 {
		return nil
	}
	return tracks[len(tracks)-1]
}

func (w *Worker) run() {
	defer close(w.finished)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case p := <-w.packets:
			w.accept(p)
		case <-ticker.C:
			w.write(w.buffer.Flush(w.cfg.Now()))
		case <-w.quit:
			w.drainQueue()
			w.finish()
			return
		}
	}
}

func (w *Worker) drainQueue() {
	for {
		select {
		case p := <-w.packets:
			w.accept(p)
		default:
			return
		}
	}
}

func (w *Worker) accept(p *rtpheader.Packet) {
	if w.meta != nil && w.retired(p.Header.SSRC) {
		// straggler of the track that was just rolled over
		w.stats.LatePackets++
		return
	}
	if w.meta != nil && p.Header.SSRC != w.meta.SSRC {
		w.log.WithField("new_ssrc", p.Header.SSRC).Info("SSRC changed, starting a new track")
		w.finishTrack()
	}
	if w.meta == nil {
		w.capture(p)
	}
	w.stats.Packets++
	w.timeline.Add(p.Arrival, p.Header.Timestamp)
	w.buffer.Put(p)

	if !w.jitterWarned && w.buffer.JitterExceeded() {
		w.jitterWarned = true
		w.log.WithField("jitter", w.buffer.Jitter()).Warn("Interarrival jitter above tolerance, expect concealed frames")
	}
}

func (w *Worker) retired(ssrc uint32) bool {
	return len(w.tracks) > 0 && w.tracks[len(w.tracks)-1].Metadata.SSRC == ssrc && ssrc != w.meta.SSRC
}

// capture records the track's origin on the global timeline. It runs once
// per track, before anything of it is decoded.
func (w *Worker) capture(p *rtpheader.Packet) {
	meta := &store.TrackMetadata{
		UserID:            w.cfg.UserID,
		SSRC:              p.Header.SSRC,
		Segment:           w.cfg.NextSegment(),
		StartTimestamp:    p.Header.Timestamp,
		StartTimeHR:       store.FromTime(p.Arrival),
		SampleRate:        w.cfg.Format.SampleRate(),
		DecodedSampleRate: w.cfg.Format.SampleRate(),
	}
	meta.PCMFile = store.PCMFileName(meta.Name())

	w.meta = meta
	w.timeline = drift.NewTimeline(meta.UserID, meta.SSRC, meta.SampleRate)
	w.log = w.log.WithFields(logrus.Fields{"ssrc": meta.SSRC, "segment": meta.Segment})

	if err := w.storage.WriteTrackMetadata(meta); err != nil {
		w.log.WithError(err).Error("Failed to persist track metadata")
	}

	out, err := w.storage.CreatePCM(meta.PCMFile)
	if err != nil {
		w.log.WithError(err).Error("Failed to open PCM sink")
		out = discard{}
	}
	w.sink = newSink(out, w.log)

	w.state.Store(int32(MetadataCaptured))
	w.log.WithFields(logrus.Fields{
		"start_timestamp": meta.StartTimestamp,
		"pcm_file":        meta.PCMFile,
	}).Info("Track started")

	if w.cfg.OnMetadata != nil {
		w.cfg.OnMetadata(meta, w.timeline)
	}
}

func (w *Worker) write(frames []*jitter.Frame) {
	if len(frames) == 0 || w.sink == nil {
		return
	}
	if w.State() == MetadataCaptured {
		w.state.Store(int32(Flushing))
	}

	for _, f := range frames {
		w.stats.Frames++
		if f.Silence {
			w.stats.SilenceFrames++
			w.sink.Write(w.cfg.Format.Silence(1))
			continue
		}

		data, err := w.decoder.Decode(f.Data)
		if err != nil {
			w.stats.DecodeFailures++
			w.log.WithError(err).WithField("sequence", f.Sequence).Debug("Decode failed, writing silence")
			data = w.cfg.Format.Silence(1)
		}
		w.sink.Write(w.fit(data))
	}
}

// fit pads or truncates decoded audio to exactly one frame so every emitted
// slot occupies the same span of the file.
func (w *Worker) fit(data []byte) []byte {
	size := w.cfg.Format.FrameBytes()
	switch {
	case len(data) == 0:
		return w.cfg.Format.Silence(1)
	case len(data) > size:
		return data[:size]
	}
	return w.cfg.Format.Align(data)
}

func (w *Worker) finish() {
	defer w.state.Store(int32(Stopped))

	if w.meta != nil {
		w.finishTrack()
	}
}

// finishTrack drains the current track into its file and persists its stats.
// The next packet starts a new track.
func (w *Worker) finishTrack() {
	w.write(w.buffer.Drain())

	written, err := w.sink.Close()
	if err != nil {
		w.log.WithError(err).Error("Failed to close PCM sink")
	}

	w.stats.EndTimeHR = store.FromTime(w.cfg.Now())
	w.stats.BytesWritten = written
	w.stats.DroppedPackets = int(w.dropped.Swap(0))
	w.stats.MalformedPackets = int(w.malformed.Swap(0))
	w.stats.Jitter = w.buffer.Jitter()
	w.buffer.Clear()

	if err := w.storage.WriteTrackStats(w.meta, &w.stats); err != nil {
		w.log.WithError(err).Error("Failed to persist track stats")
	}

	w.log.WithFields(logrus.Fields{
		"frames":          w.stats.Frames,
		"silence_frames":  w.stats.SilenceFrames,
		"decode_failures": w.stats.DecodeFailures,
		"late_packets":    w.stats.LatePackets,
		"dropped_packets": w.stats.DroppedPackets,
		"malformed":       w.stats.MalformedPackets,
		"bytes":           written,
	}).Info("Track stopped")

	w.tracks = append(w.tracks, &Track{Metadata: w.meta, Stats: w.stats, Timeline: w.timeline})
	w.meta = nil
	w.timeline = nil
	w.sink = nil
	w.stats = store.TrackStats{}
	w.jitterWarned = false
}

type statsListener struct {
	jitter.NullListener
	w *Worker
}

func (l statsListener) OnLatePacket(expected int64, pkt *jitter.Packet) {
	l.w.stats.LatePackets++
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (discard) Close() error { return nil }
