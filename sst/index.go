package sst

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/oxkv/oxkv/filter"
)

// Index is the in-memory index of one on-disk table: the keys, the offset
// and length of each value within the data segment, and a membership filter
// seeded with every key. Built from the index segment alone, it decides
// membership and locates any value for a single positional read.
type Index struct {
	keys        []uint64
	offsets     []uint32
	lengths     []uint32
	filter      *filter.Filter
	size        uint32
	dataSegBias uint32
}

// NewIndex parses an index segment buffer. size and dataSegBias are the two
// header numbers of the table the segment came from.
func NewIndex(indexSeg []byte, size, dataSegBias uint32) (*Index, error) {
	if len(indexSeg)%IndexRecordSize != 0 {
		return nil, fmt.Errorf("%w: index segment of %d bytes is not whole records", ErrCorrupt, len(indexSeg))
	}

	n := len(indexSeg) / IndexRecordSize
	ix := &Index{
		keys:        make([]uint64, 0, n),
		offsets:     make([]uint32, 0, n),
		lengths:     make([]uint32, 0, n),
		filter:      filter.New(),
		size:        size,
		dataSegBias: dataSegBias,
	}

	for pos := 0; pos < len(indexSeg); pos += IndexRecordSize {
		key := binary.LittleEndian.Uint64(indexSeg[pos : pos+8])
		ix.filter.Insert(key)
		ix.keys = append(ix.keys, key)
		ix.offsets = append(ix.offsets, binary.LittleEndian.Uint32(indexSeg[pos+8:pos+12]))
		ix.lengths = append(ix.lengths, binary.LittleEndian.Uint32(indexSeg[pos+12:pos+16]))
	}

	return ix, nil
}

// Find locates key. On a hit it returns the value's offset within the data
// segment and its length; a length of zero means the entry is a tombstone.
func (ix *Index) Find(key uint64) (offset, length uint32, ok bool) {
	if !ix.filter.MayContain(key) {
		return 0, 0, false
	}

	pos, found := slices.BinarySearch(ix.keys, key)
	if !found {
		return 0, 0, false
	}

	return ix.offsets[pos], ix.lengths[pos], true
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.keys)
}

func (ix *Index) Size() uint32 {
	return ix.size
}

func (ix *Index) DataSegBias() uint32 {
	return ix.dataSegBias
}

// LowBound returns the smallest indexed key.
func (ix *Index) LowBound() uint64 {
	return ix.keys[0]
}

// HighBound returns the largest indexed key.
func (ix *Index) HighBound() uint64 {
	return ix.keys[len(ix.keys)-1]
}
