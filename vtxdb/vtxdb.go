// Package vtxdb wires the page store, buffer manager, log manager and
// transaction manager into the single entry point cmd/vtxctl drives.
// Grounded on luigitni-simpledb/db/db.go, which performs the same
// fm/lm/bm/mdm wiring and branches on "is this a fresh database" to decide
// between initializing and recovering.
package vtxdb

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/vtxlog/buffer"
	"github.com/luigitni/vtxlog/config"
	"github.com/luigitni/vtxlog/ops"
	"github.com/luigitni/vtxlog/pagestore"
	"github.com/luigitni/vtxlog/txn"
	"github.com/luigitni/vtxlog/wal"
)

// DB is the wired-up system: every exported operation on it goes through
// the transaction manager, matching the teacher's db.DB fronting tx.Tx.
type DB struct {
	Store *pagestore.Store
	Buf   *buffer.Manager
	Wal   *wal.Manager
	Txn   *txn.Manager

	log zerolog.Logger
}

// Open wires the full stack from cfg and runs crash recovery. A log file
// that did not already exist means there is nothing to recover, mirroring
// fm.IsNew() in luigitni-simpledb/db/db.go; an existing one always runs
// through Recover(), which is a no-op on a clean shutdown's log.
func Open(cfg config.Config) (*DB, error) {
	logger := log.With().Str("component", "vtxdb").Logger()

	fresh := true
	if _, err := os.Stat(cfg.LogFileName); err == nil {
		fresh = false
	}

	store, err := pagestore.NewStore(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}

	buf := buffer.NewManager(store, cfg.BufferCapacity)
	proc := ops.NewProcessor()

	walManager, err := wal.NewManager(cfg.LogFileName, buf, proc, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("vtxdb: opening log manager: %w", err)
	}

	txnManager := txn.NewManager(walManager, buf, proc, cfg)

	db := &DB{Store: store, Buf: buf, Wal: walManager, Txn: txnManager, log: logger}

	if fresh {
		logger.Info().Msg("initializing new dataset store")
	} else {
		logger.Info().Msg("existing log found, running recovery")
		if err := txnManager.Recover(); err != nil {
			return nil, fmt.Errorf("vtxdb: recovery: %w", err)
		}
	}

	return db, nil
}

// Close flushes every dirty buffer slot and closes the log file.
func (db *DB) Close() error {
	if err := db.Buf.FlushAllSlots(context.Background()); err != nil {
		return err
	}
	return db.Wal.Close()
}
