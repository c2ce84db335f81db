package track

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// sink queues PCM writes for a background goroutine so a slow disk never
// holds up the flush loop.
type sink struct {
	w   io.WriteCloser
	log *logrus.Entry

	mu      sync.Mutex
	pending [][]byte
	closed  bool
	signal  chan struct{}
	done    chan struct{}

	written int64
	failed  bool
}

func newSink(w io.WriteCloser, log *logrus.Entry) *sink {
	s := &sink{
		w:      w,
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sink) Write(b []byte) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, b)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *sink) run() {
	defer close(s.done)

	for range s.signal {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, b := range batch {
			s.write(b)
		}
		if closed {
			return
		}
	}
}

func (s *sink) write(b []byte) {
	if s.failed {
		return
	}
	n, err := s.w.Write(b)
	s.written += int64(n)
	if err != nil {
		s.failed = true
		s.log.WithError(err).Error("PCM write failed, dropping remaining audio")
	}
}

// Close flushes queued writes, closes the underlying writer and returns the
// number of bytes written.
func (s *sink) Close() (int64, error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	<-s.done

	return s.written, s.w.Close()
}
