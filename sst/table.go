// Package sst: Overview
//
//	An SST is an immutable, key-sorted, on-disk file that persists memtable
//	data. When the memtable crosses its size threshold it is frozen into an
//	SST; compaction rewrites batches of SSTs into new ones.
//	---
//
//	File Format (all integers little-endian)
//
//	   1 │+------------------------------------------------------------------+
//	   2 │|                         SST FILE LAYOUT                          |
//	   3 │+------------------------------------------------------------------+
//	   4 │|  HEADER (8 bytes)                                                |
//	   5 │|  +-----------------------+                                       |
//	   6 │|  | size          (4)     |  <- total file bytes                  |
//	   7 │|  | dataSegBias   (4)     |  <- offset of the data segment        |
//	   8 │|  +-----------------------+                                       |
//	   9 │+------------------------------------------------------------------+
//	  10 │|  INDEX SEGMENT  [8, dataSegBias)                                 |
//	  11 │|  +-----------------------+                                       |
//	  12 │|  | key (8) | valueOffset (4) | valueLen (4)                      |
//	  13 │|  | ... one 16-byte record per entry, key-ascending               |
//	  14 │|  +-----------------------+                                       |
//	  15 │+------------------------------------------------------------------+
//	  16 │|  DATA SEGMENT  [dataSegBias, size)                               |
//	  17 │|  +-----------------------+                                       |
//	  18 │|  | values concatenated in index order                            |
//	  19 │|  +-----------------------+                                       |
//	  20 │+------------------------------------------------------------------+
//
//	valueOffset is relative to the start of the data segment. A valueLen of
//	zero marks a tombstone. The index segment alone, plus the two header
//	numbers, is enough to answer membership and to fetch any value with a
//	single positional read; that slice is what stays resident in memory.
package sst

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oxkv/oxkv/memtable"
)

const (
	// HeaderSize is the fixed size prefix holding size and dataSegBias.
	HeaderSize = 8
	// IndexRecordSize is the serialized size of one index record.
	IndexRecordSize = 16
)

// ErrCorrupt reports a table buffer whose framing does not hold together.
var ErrCorrupt = errors.New("corrupt sst")

// Table is an SST held in memory: a key-ascending batch of entries with
// pairwise-distinct keys plus its serialized form.
type Table struct {
	entries     []memtable.Entry
	size        uint32
	dataSegBias uint32
	dataBytes   uint32
	bin         []byte
}

// New builds a table from a key-ascending batch of entries. dataBytes is the
// total length of all values in the batch.
func New(entries []memtable.Entry, dataBytes int) *Table {
	idxBytes := uint32(len(entries)) * IndexRecordSize
	return &Table{
		entries:     entries,
		size:        HeaderSize + idxBytes + uint32(dataBytes),
		dataSegBias: HeaderSize + idxBytes,
		dataBytes:   uint32(dataBytes),
	}
}

// Decode parses a full SST buffer. The buffer is retained by the table.
func Decode(bin []byte) (*Table, error) {
	if len(bin) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(bin))
	}

	size := binary.LittleEndian.Uint32(bin[0:4])
	dataSegBias := binary.LittleEndian.Uint32(bin[4:8])

	if int(size) != len(bin) {
		return nil, fmt.Errorf("%w: size field %d, buffer %d bytes", ErrCorrupt, size, len(bin))
	}
	if dataSegBias < HeaderSize || dataSegBias > size {
		return nil, fmt.Errorf("%w: data segment offset %d out of range", ErrCorrupt, dataSegBias)
	}
	if (dataSegBias-HeaderSize)%IndexRecordSize != 0 {
		return nil, fmt.Errorf("%w: index segment of %d bytes is not whole records", ErrCorrupt, dataSegBias-HeaderSize)
	}

	t := &Table{
		size:        size,
		dataSegBias: dataSegBias,
		dataBytes:   size - dataSegBias,
		bin:         bin,
	}

	data := bin[dataSegBias:]
	for pos := uint32(HeaderSize); pos < dataSegBias; pos += IndexRecordSize {
		key := binary.LittleEndian.Uint64(bin[pos : pos+8])
		valueOffset := binary.LittleEndian.Uint32(bin[pos+8 : pos+12])
		valueLen := binary.LittleEndian.Uint32(bin[pos+12 : pos+16])

		if uint64(valueOffset)+uint64(valueLen) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: value for key %d outside the data segment", ErrCorrupt, key)
		}

		t.entries = append(t.entries, memtable.Entry{
			Key:   key,
			Value: data[valueOffset : valueOffset+valueLen],
		})
	}

	return t, nil
}

// Encode returns the full serialized file bytes. The buffer is built once
// and reused on later calls.
func (t *Table) Encode() []byte {
	if t.bin != nil {
		return t.bin
	}

	bin := make([]byte, t.size)
	binary.LittleEndian.PutUint32(bin[0:4], t.size)
	binary.LittleEndian.PutUint32(bin[4:8], t.dataSegBias)

	pos := uint32(HeaderSize)
	valueOffset := uint32(0)
	for _, e := range t.entries {
		binary.LittleEndian.PutUint64(bin[pos:pos+8], e.Key)
		binary.LittleEndian.PutUint32(bin[pos+8:pos+12], valueOffset)
		binary.LittleEndian.PutUint32(bin[pos+12:pos+16], uint32(len(e.Value)))
		pos += IndexRecordSize
		valueOffset += uint32(len(e.Value))
	}

	datum := bin[t.dataSegBias:]
	n := 0
	for _, e := range t.entries {
		n += copy(datum[n:], e.Value)
	}

	t.bin = bin
	return bin
}

// IndexBytes returns the index segment slice [HeaderSize, dataSegBias).
func (t *Table) IndexBytes() []byte {
	return t.Encode()[HeaderSize:t.dataSegBias]
}

// Entries returns the table's entries in ascending-key order.
func (t *Table) Entries() []memtable.Entry {
	return t.entries
}

func (t *Table) Size() uint32 {
	return t.size
}

func (t *Table) DataSegBias() uint32 {
	return t.dataSegBias
}

// LowBound returns the smallest key in the table.
func (t *Table) LowBound() uint64 {
	return t.entries[0].Key
}

// HighBound returns the largest key in the table.
func (t *Table) HighBound() uint64 {
	return t.entries[len(t.entries)-1].Key
}
