// Package lsm implements the log-structured merge engine: an in-memory
// skip-list memtable absorbing writes, frozen into sorted table files when
// full, with a size-tiered level hierarchy maintained by synchronous
// compaction. Deletes are tombstones (empty values) that shadow older
// versions; compaction discards the older versions it merges with a
// tombstone but keeps the tombstone itself.
package lsm

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/oxkv/oxkv/levels"
	"github.com/oxkv/oxkv/memtable"
	"github.com/oxkv/oxkv/sst"
)

// DefaultMemTableBytes is the serialized-size threshold at which the
// memtable is frozen into a table file.
const DefaultMemTableBytes = 1 << 21 // 2 MiB

// Option configures an Engine.
type Option func(e *Engine)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMemTableBytes overrides the memtable flush threshold. Compaction
// splits merged streams into tables of the same size.
func WithMemTableBytes(n int) Option {
	return func(e *Engine) {
		e.memMax = n
	}
}

// Engine is a single-threaded embedded key–value store over one directory
// of table files. Operations run synchronously; a Put that fills the
// memtable blocks for the flush and any compaction it triggers.
type Engine struct {
	dir     string
	mem     *memtable.SkipList
	indices *levels.Directory
	memMax  int
	log     *zap.SugaredLogger
}

// Open creates the store directory if missing and discovers existing table
// files.
func Open(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{
		dir:    dir,
		mem:    memtable.NewSkipList(),
		memMax: DefaultMemTableBytes,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}

	indices, err := levels.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open level directory: %w", err)
	}
	e.indices = indices

	return e, nil
}

// footprint is the memtable's projected serialized size: header plus one
// index record per entry plus the value bytes.
func (e *Engine) footprint(dataBytes int) int {
	return sst.HeaderSize + e.mem.Len()*sst.IndexRecordSize + dataBytes
}

// Put inserts or overwrites key. The returned bool is advisory: false means
// the write triggered a flush that level 0 rejected, so a compaction ran.
func (e *Engine) Put(key uint64, value []byte) (bool, error) {
	dataBytes := e.mem.Put(key, value)
	if e.footprint(dataBytes) < e.memMax {
		return true, nil
	}

	ok, err := e.flush()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// flush freezes the memtable into a table, hands it to the level directory
// and resets the memtable. Returns false when level 0 was full and the
// table went through compaction instead.
func (e *Engine) flush() (bool, error) {
	t := sst.New(e.mem.Entries(), e.mem.DataSize())
	ok, err := e.dump(t)
	if err != nil {
		return false, err
	}

	e.mem.Reset()
	return ok, nil
}

// dump files t into level 0, or runs compaction when level 0 is full.
func (e *Engine) dump(t *sst.Table) (bool, error) {
	idx, err := sst.NewIndex(t.IndexBytes(), t.Size(), t.DataSegBias())
	if err != nil {
		return false, err
	}

	name, ok := e.indices.Insert(idx)
	if !ok {
		if err := e.compact(t); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := writeFileAtomic(name, t.Encode()); err != nil {
		return false, err
	}

	e.log.Infow("memtable flushed", "entries", idx.Len(), "bytes", t.Size(), "file", name)
	return true, nil
}

// Get returns the value of the newest surviving version of key, or an empty
// value when the key is absent or tombstoned.
func (e *Engine) Get(key uint64) ([]byte, error) {
	if value, ok := e.mem.Get(key); ok {
		return value, nil
	}

	hit, ok := e.indices.Find(key)
	if !ok {
		return nil, nil
	}

	f, err := os.Open(hit.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", hit.FileName, err)
	}
	defer f.Close()

	value := make([]byte, hit.Length)
	if _, err := f.ReadAt(value, int64(hit.DataSegBias)+int64(hit.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read value from %s: %w", hit.FileName, err)
	}

	return value, nil
}

// Remove writes a tombstone for key. It reports false when the newest
// surviving version is already a tombstone or the key is absent, in memory
// and on disk alike.
func (e *Engine) Remove(key uint64) (bool, error) {
	if value, ok := e.mem.Get(key); ok {
		if len(value) == 0 {
			return false, nil
		}
		e.mem.Put(key, nil)
		return true, nil
	}

	if _, ok := e.indices.Find(key); !ok {
		return false, nil
	}

	e.mem.Put(key, nil)
	return true, nil
}

// Reset clears the memtable and the level catalog, then deletes and
// recreates the store directory.
func (e *Engine) Reset() error {
	e.mem.Reset()
	e.indices.Clear()

	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("failed to remove store directory: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate store directory: %w", err)
	}

	e.log.Infow("store reset", "dir", e.dir)
	return nil
}

// Close flushes a non-empty memtable through the normal dump path,
// compaction cascade included.
func (e *Engine) Close() error {
	if e.mem.Len() > 0 {
		if _, err := e.flush(); err != nil {
			return err
		}
	}

	_ = e.log.Sync()
	return nil
}

// writeFileAtomic writes data to a temporary sibling and renames it into
// place, so discovery never observes a partially written table.
func writeFileAtomic(name string, data []byte) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to rename table into place: %w", err)
	}
	return nil
}
