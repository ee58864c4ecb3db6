// Package badgerstore persists matrix snapshots and op journals in BadgerDB.
//
// Keys are laid out as:
//
//	snap/<escaped id>               encoded snapshot
//	op/<escaped id>/<pos %020d>     encoded op at journal position pos
//
// Positions come from one store-wide counter, so they rise across every
// journal but are not contiguous within one.
//
// Escaping with url.PathEscape keeps '/' inside ids from colliding with the
// separators, so prefix scans never leak across matrices.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/phroun/cellrope"
)

const (
	snapshotPrefix = "snap/"
	opPrefix       = "op/"
	counterKey     = "meta/opcounter"

	counterBandwidth = 128
)

// Config configures a badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction before a GC pass rewrites a file.
	GCDiscardRatio float64
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration with no disk persistence.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements cellrope.SnapshotStore and cellrope.OpLog on BadgerDB.
type Store struct {
	db      *badger.DB
	counter *badger.Sequence
	logger  *slog.Logger

	// appendMu keeps positions committing in the order they were drawn.
	appendMu sync.Mutex

	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var (
	_ cellrope.SnapshotStore = (*Store)(nil)
	_ cellrope.OpLog         = (*Store)(nil)
)

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	counter, err := db.GetSequence([]byte(counterKey), counterBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open op counter: %w", err)
	}

	s := &Store{db: db, counter: counter, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func snapshotKey(id string) []byte {
	return []byte(snapshotPrefix + url.PathEscape(id))
}

func journalPrefix(id string) []byte {
	return []byte(opPrefix + url.PathEscape(id) + "/")
}

func opKey(id string, pos int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", journalPrefix(id), pos))
}

// PutSnapshot stores snap under its id.
func (s *Store) PutSnapshot(ctx context.Context, snap cellrope.Snapshot) error {
	data, err := cellrope.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.ID), data)
	})
}

// GetSnapshot loads the snapshot for id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (cellrope.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cellrope.Snapshot{}, fmt.Errorf("%w: %s", cellrope.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return cellrope.Snapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return cellrope.DecodeSnapshot(data)
}

// DeleteSnapshot removes the snapshot and every journaled op for id.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(snapshotKey(id)); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := journalPrefix(id)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSnapshots returns the stored ids in sorted order.
func (s *Store) ListSnapshots(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := url.PathUnescape(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendOp journals op for id at the next counter value.
func (s *Store) AppendOp(ctx context.Context, id string, op cellrope.Op) (int64, error) {
	data, err := cellrope.EncodeOp(op)
	if err != nil {
		return 0, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	n, err := s.counter.Next()
	if err != nil {
		return 0, fmt.Errorf("next op counter: %w", err)
	}
	pos := int64(n) + 1
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(opKey(id, pos), data)
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// OpsSince returns the journal entries for id after pos. Key order is
// position order.
func (s *Store) OpsSince(ctx context.Context, id string, pos int64) ([]cellrope.JournalEntry, error) {
	var entries []cellrope.JournalEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := journalPrefix(id)
		for it.Seek(opKey(id, pos+1)); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			at, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("journal %s key %s: %w", id, item.Key(), err)
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			op, err := cellrope.DecodeOp(data)
			if err != nil {
				return fmt.Errorf("journal %s key %s: %w", id, item.Key(), err)
			}
			entries = append(entries, cellrope.JournalEntry{Pos: at, Op: op})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close stops GC, releases the op counter and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		if err := s.counter.Release(); err != nil {
			s.logger.Warn("release op counter", slog.String("error", err.Error()))
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
