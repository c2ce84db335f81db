package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/store"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExists   = errors.New("session: already exists")
)

var log = logrus.WithField("component", "session")

// Index is the subset of store.Index the registry writes to. It may be nil.
type Index interface {
	Put(ctx context.Context, meta *store.SessionMetadata) error
}

// Registry owns every live session, each recorded under its own directory
// below Root.
type Registry struct {
	root  string
	index Index
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

func NewRegistry(root string, index Index, opts Options) *Registry {
	return &Registry{
		root:     root,
		index:    index,
		opts:     opts,
		sessions: map[string]*Coordinator{},
	}
}

// Start opens a session directory, persists the session record and returns
// its coordinator. An empty SessionID is replaced with a fresh UUID.
func (r *Registry) Start(ctx context.Context, meta store.SessionMetadata) (*Coordinator, error) {
	if meta.SessionID == "" {
		meta.SessionID = uuid.NewString()
	}
	if meta.StartTime.IsZero() {
		meta.StartTime = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[meta.SessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, meta.SessionID)
	}

	dir, err := store.OpenDir(filepath.Join(r.root, meta.SessionID))
	if err != nil {
		return nil, err
	}
	meta.Dir = dir.Root()

	if err := dir.WriteSession(&meta); err != nil {
		return nil, err
	}
	if r.index != nil {
		if err := r.index.Put(ctx, &meta); err != nil {
			return nil, fmt.Errorf("session: index %s: %w", meta.SessionID, err)
		}
	}

	c := NewCoordinator(&meta, dir, r.opts)
	r.sessions[meta.SessionID] = c

	log.WithFields(logrus.Fields{
		"session_id":   meta.SessionID,
		"channel_id":   meta.ChannelID,
		"channel_name": meta.ChannelName,
		"dir":          meta.Dir,
	}).Info("Session started")
	return c, nil
}

func (r *Registry) Get(id string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c, nil
}

// IDs lists live sessions in ascending order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := lo.Keys(r.sessions)
	sort.Strings(ids)
	return ids
}

// Stop removes the session and stops its coordinator.
func (r *Registry) Stop(ctx context.Context, id string) ([]drift.Result, error) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c.Stop(ctx), nil
}

// StopAll stops every live session concurrently.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	sessions := lo.Values(r.sessions)
	r.sessions = map[string]*Coordinator{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range sessions {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Stop(ctx)
		}(c)
	}
	wg.Wait()
}
