package lsm

import (
	"fmt"
	"os"

	"github.com/oxkv/oxkv/levels"
	"github.com/oxkv/oxkv/memtable"
	"github.com/oxkv/oxkv/sst"
)

// compact absorbs trigger and every level-0 table into a multi-way merge
// and pushes the result down the level hierarchy. At each level the merge
// set additionally pulls in every resident table whose key range intersects
// the merged stream, so ranges on levels ≥ 1 stay pairwise disjoint. Tables
// that do not fit a level's capacity descend to the next one.
func (e *Engine) compact(trigger *sst.Table) error {
	e.log.Infow("compaction started", "level0", len(e.indices.Level(0)))

	// Newest first: the triggering table, then level 0 newest-to-oldest.
	merge := []*sst.Table{trigger}
	chaos := e.indices.Level(0)
	for i := len(chaos) - 1; i >= 0; i-- {
		name := e.indices.FileName(0, i)
		t, err := e.readTable(name)
		if err != nil {
			return err
		}
		merge = append(merge, t)
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	e.indices.SetLevel(0, nil)

	tables := e.split(mergeEntries(merge))

	if e.indices.Height() < 2 {
		e.indices.AddLevel()
		for i, t := range tables {
			if err := e.writeTable(1, i, t); err != nil {
				return err
			}
		}
		e.log.Infow("compaction finished", "depth", 1, "tables", len(tables))
		return nil
	}

	level := 1
	for {
		bmin := tables[0].LowBound()
		bmax := tables[len(tables)-1].HighBound()

		gathered, err := e.gatherIntersecting(level, bmin, bmax)
		if err != nil {
			return err
		}
		if len(gathered) > 0 {
			tables = e.split(mergeEntries(append(tables, gathered...)))
		}

		resident := len(e.indices.Level(level))
		remAvail := levels.Capacity(level) - resident
		toNext := len(tables) - remAvail

		for i := 0; i < remAvail && len(tables) > 0; i++ {
			t := tables[len(tables)-1]
			tables = tables[:len(tables)-1]
			if err := e.writeTable(level, len(e.indices.Level(level)), t); err != nil {
				return err
			}
		}

		if toNext <= 0 {
			break
		}

		if e.indices.Height() > level+1 {
			level++
			continue
		}

		// No deeper level yet: open one and park the overflow there.
		e.indices.AddLevel()
		level++
		for i := 0; len(tables) > 0; i++ {
			t := tables[len(tables)-1]
			tables = tables[:len(tables)-1]
			if err := e.writeTable(level, i, t); err != nil {
				return err
			}
		}
		break
	}

	e.log.Infow("compaction finished", "depth", level)
	return nil
}

// gatherIntersecting removes from level every table whose key range
// intersects [bmin, bmax] and returns their contents. Surviving files are
// renamed so slot numbers stay contiguous from 0.
func (e *Engine) gatherIntersecting(level int, bmin, bmax uint64) ([]*sst.Table, error) {
	cur := e.indices.Level(level)

	var (
		gathered  []*sst.Table
		kept      []*sst.Index
		keptSlots []int
	)

	for slot, ix := range cur {
		if ix.HighBound() < bmin || ix.LowBound() > bmax {
			kept = append(kept, ix)
			keptSlots = append(keptSlots, slot)
			continue
		}

		name := e.indices.FileName(level, slot)
		t, err := e.readTable(name)
		if err != nil {
			return nil, err
		}
		gathered = append(gathered, t)
		if err := os.Remove(name); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	for newSlot, oldSlot := range keptSlots {
		if newSlot == oldSlot {
			continue
		}
		from := e.indices.FileName(level, oldSlot)
		to := e.indices.FileName(level, newSlot)
		if err := os.Rename(from, to); err != nil {
			return nil, fmt.Errorf("failed to reshuffle %s: %w", from, err)
		}
	}

	e.indices.SetLevel(level, kept)
	return gathered, nil
}

// mergeEntries folds the tables into one key-ascending stream. Tables must
// be ordered newest first: on a key collision the entry already accumulated
// (the newer side) is kept and the older run is skipped.
func mergeEntries(tables []*sst.Table) []memtable.Entry {
	acc := tables[0].Entries()

	for _, t := range tables[1:] {
		cur := t.Entries()
		out := make([]memtable.Entry, 0, len(acc)+len(cur))

		i, j := 0, 0
		for i < len(acc) && j < len(cur) {
			switch {
			case acc[i].Key == cur[j].Key:
				for j < len(cur) && cur[j].Key == acc[i].Key {
					j++
				}
				out = append(out, acc[i])
				i++
			case acc[i].Key < cur[j].Key:
				out = append(out, acc[i])
				i++
			default:
				out = append(out, cur[j])
				j++
			}
		}
		out = append(out, acc[i:]...)
		out = append(out, cur[j:]...)

		acc = out
	}

	return acc
}

// split repartitions a merged stream into tables by the serialized-size
// formula. A table closes with the entry that brings its size to or past the
// memtable threshold, so every table but the last reaches the threshold and
// passes it by less than one entry.
func (e *Engine) split(entries []memtable.Entry) []*sst.Table {
	var tables []*sst.Table

	for start := 0; start < len(entries); {
		size := sst.HeaderSize
		dataBytes := 0

		i := start
		for i < len(entries) && size < e.memMax {
			size += sst.IndexRecordSize + len(entries[i].Value)
			dataBytes += len(entries[i].Value)
			i++
		}

		tables = append(tables, sst.New(entries[start:i], dataBytes))
		start = i
	}

	return tables
}

// writeTable persists t at the given level and slot and files its index.
func (e *Engine) writeTable(level, slot int, t *sst.Table) error {
	if err := writeFileAtomic(e.indices.FileName(level, slot), t.Encode()); err != nil {
		return err
	}

	idx, err := sst.NewIndex(t.IndexBytes(), t.Size(), t.DataSegBias())
	if err != nil {
		return err
	}
	e.indices.Append(level, idx)

	return nil
}

// readTable loads a full table file back into memory.
func (e *Engine) readTable(name string) (*sst.Table, error) {
	bin, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", name, err)
	}

	t, err := sst.Decode(bin)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return t, nil
}
