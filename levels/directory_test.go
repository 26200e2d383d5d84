package levels

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxkv/oxkv/memtable"
	"github.com/oxkv/oxkv/sst"
)

func buildTable(t *testing.T, keys []uint64, value string) *sst.Table {
	t.Helper()
	entries := make([]memtable.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, memtable.Entry{Key: k, Value: []byte(value)})
	}
	return sst.New(entries, len(keys)*len(value))
}

func buildIndex(t *testing.T, tab *sst.Table) *sst.Index {
	t.Helper()
	ix, err := sst.NewIndex(tab.IndexBytes(), tab.Size(), tab.DataSegBias())
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func writeTableFile(t *testing.T, dir string, level, inLevel int, tab *sst.Table) {
	t.Helper()
	name := filepath.Join(dir, fmt.Sprintf("%d-%d.bin", level, inLevel))
	if err := os.WriteFile(name, tab.Encode(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCapacity(t *testing.T) {
	for level, want := range []int{4, 8, 16, 32} {
		if got := Capacity(level); got != want {
			t.Fatalf("capacity of level %d is %d, want %d", level, got, want)
		}
	}
}

func TestOpenFreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	d, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if d.Height() != 1 {
		t.Fatalf("expected height 1, got %d", d.Height())
	}
	if len(d.Level(0)) != 0 {
		t.Fatalf("expected empty level 0, got %d tables", len(d.Level(0)))
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatal("store directory was not created")
	}
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err == nil {
		t.Fatal("expected error opening a plain file as a store directory")
	}
}

func TestFileName(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	got := filepath.Base(d.FileName(2, 11))
	if got != "2-11.bin" {
		t.Fatalf("expected 2-11.bin, got %s", got)
	}
}

func TestInsertUntilFull(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < NumPerLevel; i++ {
		tab := buildTable(t, []uint64{uint64(i)}, "v")
		name, ok := d.Insert(buildIndex(t, tab))
		if !ok {
			t.Fatalf("insert %d rejected", i)
		}
		if want := fmt.Sprintf("0-%d.bin", i); filepath.Base(name) != want {
			t.Fatalf("expected %s, got %s", want, filepath.Base(name))
		}
	}

	if _, ok := d.Insert(buildIndex(t, buildTable(t, []uint64{99}, "v"))); ok {
		t.Fatal("insert into a full level 0 was accepted")
	}
}

func TestFindNewestFirstInChaos(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Same key in two level-0 tables; the later slot must win.
	older := buildTable(t, []uint64{7}, "old")
	newer := buildTable(t, []uint64{7}, "newer")
	d.Insert(buildIndex(t, older))
	d.Insert(buildIndex(t, newer))

	hit, ok := d.Find(7)
	if !ok {
		t.Fatal("key 7 not found")
	}
	if filepath.Base(hit.FileName) != "0-1.bin" {
		t.Fatalf("expected hit in 0-1.bin, got %s", hit.FileName)
	}
	if hit.Length != 5 {
		t.Fatalf("expected the newer value's length 5, got %d", hit.Length)
	}
}

func TestFindTombstoneEndsSearch(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Older slot holds a live value, newer slot a tombstone.
	live := buildTable(t, []uint64{7}, "live")
	dead := sst.New([]memtable.Entry{{Key: 7, Value: nil}}, 0)
	d.Insert(buildIndex(t, live))
	d.Insert(buildIndex(t, dead))

	if _, ok := d.Find(7); ok {
		t.Fatal("tombstoned key reported present")
	}
}

func TestFindAbsent(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d.Insert(buildIndex(t, buildTable(t, []uint64{1, 2, 3}, "v")))

	if _, ok := d.Find(1000); ok {
		t.Fatal("absent key reported present")
	}
}

func TestDiscovery(t *testing.T) {
	dir := t.TempDir()

	// Two level-0 tables, one level-1 table.
	writeTableFile(t, dir, 0, 0, buildTable(t, []uint64{1, 2}, "aa"))
	writeTableFile(t, dir, 0, 1, buildTable(t, []uint64{2, 3}, "bb"))
	writeTableFile(t, dir, 1, 0, buildTable(t, []uint64{10, 20}, "cc"))

	d, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if d.Height() != 2 {
		t.Fatalf("expected height 2, got %d", d.Height())
	}
	if len(d.Level(0)) != 2 || len(d.Level(1)) != 1 {
		t.Fatalf("expected levels (2,1), got (%d,%d)", len(d.Level(0)), len(d.Level(1)))
	}

	hit, ok := d.Find(2)
	if !ok {
		t.Fatal("key 2 not found after discovery")
	}
	if filepath.Base(hit.FileName) != "0-1.bin" {
		t.Fatalf("expected newest slot to win, got %s", hit.FileName)
	}

	if _, ok := d.Find(20); !ok {
		t.Fatal("level-1 key not found after discovery")
	}
}

func TestDiscoveryEmptyLevelZero(t *testing.T) {
	dir := t.TempDir()

	// Level 0 empty on disk, deeper levels populated: the state right after
	// a compaction, before the next flush.
	writeTableFile(t, dir, 1, 0, buildTable(t, []uint64{1}, "a"))
	writeTableFile(t, dir, 2, 0, buildTable(t, []uint64{5}, "b"))

	d, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if d.Height() != 3 {
		t.Fatalf("expected height 3, got %d", d.Height())
	}
	if _, ok := d.Find(5); !ok {
		t.Fatal("level-2 key not found")
	}
}

func TestDiscoveryStopsAtCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0-0.bin"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(dir); err == nil {
		t.Fatal("expected error for a corrupt table file")
	}
}

func TestDiscoveryChecksSizeField(t *testing.T) {
	dir := t.TempDir()
	tab := buildTable(t, []uint64{1, 2}, "vv")
	bin := append([]byte(nil), tab.Encode()...)
	bin = append(bin, 0xFF) // trailing junk the size field does not cover
	if err := os.WriteFile(filepath.Join(dir, "0-0.bin"), bin, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(dir); err == nil {
		t.Fatal("expected error for size-field mismatch")
	}
}

func TestClear(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d.Insert(buildIndex(t, buildTable(t, []uint64{1}, "v")))
	d.AddLevel()

	d.Clear()

	if d.Height() != 1 || len(d.Level(0)) != 0 {
		t.Fatal("clear left catalog state behind")
	}
}

func TestLevelMutators(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	d.AddLevel()
	if d.Height() != 2 {
		t.Fatalf("expected height 2, got %d", d.Height())
	}

	ix := buildIndex(t, buildTable(t, []uint64{4}, "v"))
	d.Append(1, ix)
	if len(d.Level(1)) != 1 {
		t.Fatal("append did not land on level 1")
	}

	d.SetLevel(1, nil)
	if len(d.Level(1)) != 0 {
		t.Fatal("set level did not replace the slice")
	}
}
