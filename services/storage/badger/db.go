// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps dgraph-io/badger/v4 with a small transactional API
// used by the conversation memory store.
//
// The wrapper exists so callers deal in context-aware closures instead of
// raw badger transactions, and so the open/GC/close lifecycle lives in one
// place. It deliberately exposes the underlying *badger.Txn inside the
// closures: the store layer needs Entry TTLs and iterator options that a
// fully-abstracted API would just re-invent.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the directory holding the value log and LSM tree.
	Path string

	// SyncWrites forces fsync on every commit. Conversation state is
	// small and precious, so the default is true.
	SyncWrites bool

	// GCInterval is how often the value-log garbage collector runs.
	// Zero disables background GC.
	GCInterval time.Duration

	// Logger receives badger's internal log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the server.
//
// Outputs:
//   - Config: SyncWrites on, 10 minute GC interval, silenced badger logs.
func DefaultConfig() Config {
	return Config{
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// slogAdapter bridges badger's printf-style Logger onto slog. Badger
// emits multi-line messages with trailing newlines; those are trimmed.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// DB is an open badger database plus its GC goroutine.
//
// Thread Safety: DB is safe for concurrent use.
type DB struct {
	db     *dgbadger.DB
	stopGC chan struct{}
}

// OpenDB opens (creating if necessary) the database at cfg.Path.
//
// Description:
//
//	Opens badger with the wrapper defaults and starts the value-log GC
//	loop when cfg.GCInterval is non-zero. The caller owns the returned
//	DB and must Close it on shutdown.
//
// Outputs:
//   - *DB: The open database.
//   - error: Non-nil if cfg.Path is empty or badger fails to open.
func OpenDB(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger: config path is empty")
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{cfg.Logger})
	}

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening %s: %w", cfg.Path, err)
	}

	db := &DB{db: inner, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 {
		go db.gcLoop(cfg.GCInterval)
	}
	return db, nil
}

// gcLoop periodically runs value-log GC until Close is called.
func (d *DB) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite is the normal "nothing to collect" result.
			if err := d.db.RunValueLogGC(0.5); err != nil && err != dgbadger.ErrNoRewrite {
				slog.Debug("Badger value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// WithTxn runs fn inside a read-write transaction.
//
// Description:
//
//	The transaction commits when fn returns nil and discards otherwise.
//	The context is checked before the transaction starts; badger itself
//	does not support mid-transaction cancellation.
//
// Thread Safety: Safe for concurrent use. Conflicting writes return
// badger's ErrConflict and the caller decides whether to retry.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close stops the GC loop and closes the underlying database.
func (d *DB) Close() error {
	close(d.stopGC)
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger: closing database: %w", err)
	}
	return nil
}
