// Package session owns the per-participant track workers of live recordings.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/rtpheader"
	"github.com/channel-io/go-voicesync/pkg/store"
	"github.com/channel-io/go-voicesync/pkg/track"
)

type Options struct {
	Format    pcm.Format
	QueueSize int

	// MonitorDrift runs a live drift monitor on every track.
	MonitorDrift    bool
	MonitorInterval time.Duration

	// OnDrift is called by the live monitor for significant drift.
	OnDrift func(userID string, info drift.Info)

	// CorrectDrift re-renders drifting tracks once the session stops.
	CorrectDrift bool

	// NewDecoder defaults to an Opus decoder.
	NewDecoder func(pcm.Format) (track.Decoder, error)
}

func (o Options) withDefaults() Options {
	if o.Format == 0 {
		o.Format = pcm.DefaultFormat
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = drift.MonitorInterval
	}
	if o.NewDecoder == nil {
		o.NewDecoder = func(f pcm.Format) (track.Decoder, error) { return track.NewOpusDecoder(f) }
	}
	return o
}

// Coordinator routes one session's packets to a worker per participant.
type Coordinator struct {
	meta *store.SessionMetadata
	dir  *store.Dir
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	workers  map[string]*track.Worker
	finished []*track.Worker
	monitors map[string]func()
	segments map[string]int
	stopped  bool

	malformed atomic.Int64

	stopOnce sync.Once
	results  []drift.Result
}

func NewCoordinator(meta *store.SessionMetadata, dir *store.Dir, opts Options) *Coordinator {
	return &Coordinator{
		meta:     meta,
		dir:      dir,
		opts:     opts.withDefaults(),
		log:      logrus.WithFields(logrus.Fields{"component": "session", "session_id": meta.SessionID}),
		workers:  map[string]*track.Worker{},
		monitors: map[string]func(){},
		segments: map[string]int{},
	}
}

func (c *Coordinator) ID() string {
	return c.meta.SessionID
}

func (c *Coordinator) Metadata() *store.SessionMetadata {
	return c.meta
}

// HandlePacket parses buf and routes it to the participant's worker, creating
// the worker on the participant's first packet. Malformed packets are dropped
// and reported.
func (c *Coordinator) HandlePacket(participantID string, buf []byte, arrival time.Time) error {
	p, err := rtpheader.ParsePacket(buf, arrival)
	if err != nil {
		if c.malformed.Add(1)%100 == 1 {
			c.log.WithError(err).WithField("user_id", participantID).Warn("Dropping malformed packet")
		}
		c.mu.Lock()
		w := c.workers[participantID]
		c.mu.Unlock()
		if w != nil {
			w.CountMalformed()
		}
		return err
	}

	w := c.worker(participantID)
	if w == nil {
		return nil
	}
	w.Push(p)
	return nil
}

func (c *Coordinator) worker(participantID string) *track.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	if w, ok := c.workers[participantID]; ok {
		return w
	}

	dec, err := c.opts.NewDecoder(c.opts.Format)
	if err != nil {
		c.log.WithError(err).WithField("user_id", participantID).Error("Failed to create decoder, dropping packet")
		return nil
	}

	w := track.NewWorker(track.Config{
		UserID:      participantID,
		Format:      c.opts.Format,
		QueueSize:   c.opts.QueueSize,
		NextSegment: func() int { return c.nextSegment(participantID) },
		OnMetadata:  c.onMetadata,
	}, c.dir, dec)
	w.Start()
	c.workers[participantID] = w

	c.log.WithField("user_id", participantID).Debug("Track worker created")
	return w
}

// nextSegment numbers the tracks of a participant across its streams.
func (c *Coordinator) nextSegment(participantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.segments[participantID]
	c.segments[participantID] = n + 1
	return n
}

// onMetadata starts the live monitor of a new track. A participant has at
// most one monitor, the one of its current track.
func (c *Coordinator) onMetadata(meta *store.TrackMetadata, tl *drift.Timeline) {
	if !c.opts.MonitorDrift {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if cancel, ok := c.monitors[meta.UserID]; ok {
		cancel()
	}
	c.monitors[meta.UserID] = drift.Monitor(tl, c.opts.MonitorInterval, func(info drift.Info) {
		if c.opts.OnDrift != nil {
			c.opts.OnDrift(meta.UserID, info)
		}
	})
}

// EndStream stops the participant's worker. A later packet from the same
// participant starts a new worker.
func (c *Coordinator) EndStream(participantID string) {
	c.mu.Lock()
	w, ok := c.workers[participantID]
	if ok {
		delete(c.workers, participantID)
		c.finished = append(c.finished, w)
	}
	cancel, monitored := c.monitors[participantID]
	delete(c.monitors, participantID)
	c.mu.Unlock()

	if monitored {
		cancel()
	}

	if ok {
		w.Stop()
		c.log.WithField("user_id", participantID).Info("Participant stream ended")
	}
}

// Participants lists the participants with a live worker.
func (c *Coordinator) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Keys(c.workers)
}

// Stop stops every worker concurrently and waits for all of them. With
// CorrectDrift set it then corrects the recorded tracks. Calls after the
// first return the first call's results.
func (c *Coordinator) Stop(ctx context.Context) []drift.Result {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		workers := append(c.finished, lo.Values(c.workers)...)
		c.workers = map[string]*track.Worker{}
		c.finished = nil
		monitors := lo.Values(c.monitors)
		c.monitors = map[string]func(){}
		c.mu.Unlock()

		for _, cancel := range monitors {
			cancel()
		}

		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *track.Worker) {
				defer wg.Done()
				w.Stop()
			}(w)
		}
		wg.Wait()

		c.log.WithFields(logrus.Fields{
			"tracks":            len(workers),
			"malformed_packets": c.malformed.Load(),
		}).Info("Session stopped")

		if c.opts.CorrectDrift {
			c.results = c.correct(ctx, workers)
		}
	})
	return c.results
}

func (c *Coordinator) correct(ctx context.Context, workers []*track.Worker) []drift.Result {
	var inputs []drift.TrackInput
	for _, w := range workers {
		for _, t := range w.Tracks() {
			inputs = append(inputs, drift.TrackInput{Metadata: t.Metadata, Timeline: t.Timeline})
		}
	}
	corrector := drift.NewCorrector(c.dir, drift.ResampleRenderer{Format: c.opts.Format})
	return corrector.AnalyzeAndCorrectSession(ctx, inputs)
}
