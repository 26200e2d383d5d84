// Package oxkv is an embedded key–value store for fixed-width uint64 keys
// and variable-length byte-string values, built as a log-structured
// merge-tree: writes land in an in-memory sorted table, full tables are
// frozen into immutable sorted files, and a size-tiered level hierarchy is
// maintained by synchronous compaction. All state lives in one directory.
package oxkv

import (
	"go.uber.org/zap"

	"github.com/oxkv/oxkv/lsm"
)

// Option configures a DB.
type Option = lsm.Option

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return lsm.WithLogger(log)
}

// WithMemTableBytes overrides the 2 MiB memtable flush threshold.
func WithMemTableBytes(n int) Option {
	return lsm.WithMemTableBytes(n)
}

// DB is a handle on one store directory. It is not safe for concurrent use;
// there is a single mutator and program order is the linearization order.
type DB struct {
	engine *lsm.Engine
}

// Open opens the store rooted at dir, creating the directory if missing and
// discovering any table files a previous session left behind.
func Open(dir string, opts ...Option) (*DB, error) {
	engine, err := lsm.Open(dir, opts...)
	if err != nil {
		return nil, err
	}
	return &DB{engine: engine}, nil
}

// Put stores value under key, overwriting any older version. The bool is
// advisory: false means the write triggered a compaction.
func (db *DB) Put(key uint64, value []byte) (bool, error) {
	return db.engine.Put(key, value)
}

// Get returns the newest surviving value for key, or an empty value when
// the key is absent or deleted.
func (db *DB) Get(key uint64) ([]byte, error) {
	return db.engine.Get(key)
}

// Remove deletes key. It reports false when the key was already absent or
// deleted.
func (db *DB) Remove(key uint64) (bool, error) {
	return db.engine.Remove(key)
}

// Reset drops all data and recreates an empty store directory.
func (db *DB) Reset() error {
	return db.engine.Reset()
}

// Close flushes buffered writes to disk. The directory can be reopened
// later with Open.
func (db *DB) Close() error {
	return db.engine.Close()
}
