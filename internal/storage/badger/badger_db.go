package badger

import (
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pagemill/internal/common"
)

// BadgerDB wraps a badgerhold store over a single BadgerDB directory.
// The queue broker shares the underlying *badger.DB via DB().
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (or creates) the store at the configured path.
func Open(cfg common.BadgerConfig, logger arbor.ILogger) (*BadgerDB, error) {
	if cfg.ResetOnStartup {
		if err := os.RemoveAll(cfg.Path); err != nil {
			return nil, fmt.Errorf("reset badger path: %w", err)
		}
		logger.Info().Str("path", cfg.Path).Msg("Badger store reset on startup")
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("Badger store opened")

	return &BadgerDB{store: store, logger: logger}, nil
}

// Store returns the badgerhold store for typed record access.
func (db *BadgerDB) Store() *badgerhold.Store {
	return db.store
}

// DB returns the raw BadgerDB handle shared with the queue broker.
func (db *BadgerDB) DB() *badgerdb.DB {
	return db.store.Badger()
}

// Close closes the underlying store.
func (db *BadgerDB) Close() error {
	return db.store.Close()
}
