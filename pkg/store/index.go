package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

var sessionPrefix = []byte("session:")

// Index records every session the recorder has started, keyed by session id.
type Index struct {
	db *badger.DB
}

type IndexOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
}

func OpenIndex(opts IndexOptions) (*Index, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: IndexOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(logrus.WithField("component", "badger"))
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	return &Index{db: db}, nil
}

func sessionKey(id string) []byte {
	return append(append([]byte{}, sessionPrefix...), id...)
}

func (i *Index) Put(_ context.Context, meta *SessionMetadata) error {
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode session %s: %w", meta.SessionID, err)
	}
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(meta.SessionID), data)
	})
}

func (i *Index) Get(_ context.Context, id string) (*SessionMetadata, error) {
	var meta SessionMetadata
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// List returns all indexed sessions, newest first.
func (i *Index) List(_ context.Context) ([]*SessionMetadata, error) {
	var sessions []*SessionMetadata
	err := i.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(sessionPrefix); it.ValidForPrefix(sessionPrefix); it.Next() {
			var meta SessionMetadata
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			sessions = append(sessions, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sessions, func(a, b int) bool {
		return sessions[a].StartTime.After(sessions[b].StartTime)
	})
	return sessions, nil
}

func (i *Index) Delete(_ context.Context, id string) error {
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}

func (i *Index) Close() error {
	return i.db.Close()
}
