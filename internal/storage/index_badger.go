package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var indexKey = []byte("registry/index")

// BadgerConfig configures a BadgerIndexStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in RAM; used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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

// BadgerIndexStore keeps the index document under one key in BadgerDB.
// Each save is a single transaction, so a write is all-or-nothing.
type BadgerIndexStore struct {
	db *badger.DB
}

// OpenBadgerIndexStore opens (creating if needed) the database described by cfg.
func OpenBadgerIndexStore(cfg BadgerConfig) (*BadgerIndexStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
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
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerIndexStore{db: db}, nil
}

// Close releases the database.
func (s *BadgerIndexStore) Close() error {
	return s.db.Close()
}

// GetIndex reads the document. A missing key is an empty index.
func (s *BadgerIndexStore) GetIndex(ctx context.Context) (Index, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Index{}, nil
	}
	if err != nil {
		return nil, &Error{Op: "get_index", Err: err}
	}

	idx := Index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &Error{Op: "get_index", Err: fmt.Errorf("parsing index: %w", err)}
	}
	return idx, nil
}

// SaveIndex replaces the document in one transaction.
func (s *BadgerIndexStore) SaveIndex(ctx context.Context, idx Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return &Error{Op: "save_index", Err: err}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey, data)
	}); err != nil {
		return &Error{Op: "save_index", Err: err}
	}
	return nil
}
