package datalevin

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func setup(t testing.TB, backend Backend) *DB {
	t.Helper()
	return setupOpt(t, Options{Backend: backend, IsTesting: true})
}

func setupOpt(t testing.TB, opt Options) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	db := must(Open(path, opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func fill(t testing.TB, db *DB, name string, n int) {
	t.Helper()
	ensure(db.OpenDbi(name, DbiOptions{}))
	var ops []Op
	for i := 1; i <= n; i++ {
		ops = append(ops, Put(name, int64(i), "v"+itoa(i), KindLong, KindString))
	}
	ensure(db.Transact(ops))
}

func itoa(i int) string {
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func keysOf(entries []Entry) []int64 {
	var out []int64
	for _, e := range entries {
		out = append(out, e.Key.(int64))
	}
	return out
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnilany(t testing.TB, a any) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}

// gate blocks inside its own msgpack encoding, stalling the write batch
// that carries it while the engine write slot is held.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) EncodeMsgpack(enc *msgpack.Encoder) error {
	close(g.entered)
	<-g.release
	return enc.EncodeString("done")
}

func TestOpenDbiDuringTransact(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))

	g := newGate()
	transactDone := make(chan error, 1)
	go func() {
		transactDone <- db.Transact([]Op{
			Put("d", "a", "1", KindString, KindString),
			Put("d", "b", g, KindString, KindData),
		})
	}()
	<-g.entered // batch is mid-flight, write slot held

	openDone := make(chan error, 1)
	go func() {
		openDone <- db.OpenDbi("extra", DbiOptions{})
	}()
	dropDone := make(chan error, 1)
	go func() {
		dropDone <- db.DropDbi("nosuch")
	}()

	time.Sleep(50 * time.Millisecond)
	close(g.release)

	timeout := time.After(3 * time.Second)
	for transactDone != nil || openDone != nil || dropDone != nil {
		select {
		case err := <-transactDone:
			ensure(err)
			transactDone = nil
		case err := <-openDone:
			ensure(err)
			openDone = nil
		case err := <-dropDone:
			if err == nil {
				t.Errorf("** dropping an unknown dbi succeeded")
			}
			dropDone = nil
		case <-timeout:
			t.Fatalf("** registry change and write batch deadlocked")
		}
	}

	deepEqual(t, db.ListDbis(), []string{"d", "extra"})
	ent, ok, err := db.Get("d", "b", KindString, KindData, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Value.(string), "done")
}

func TestOpenDbiInvalidName(t *testing.T) {
	db := setup(t, BackendMemory)

	err := db.OpenDbi("a\x00b", DbiOptions{})
	if err == nil {
		t.Fatalf("** opening a dbi with a NUL in its name succeeded")
	}
	var de *DbiError
	if !errors.As(err, &de) {
		t.Errorf("** got %T, wanted DbiError", err)
	}
	deepEqual(t, db.ListDbis(), []string{})
}

func TestOpenDbi(t *testing.T) {
	db := setup(t, BackendMemory)

	ensure(db.OpenDbi("users", DbiOptions{}))
	ensure(db.OpenDbi("events", DbiOptions{}))
	ensure(db.OpenDbi("users", DbiOptions{})) // idempotent
	deepEqual(t, db.ListDbis(), []string{"events", "users"})

	n, err := db.EntryCount("users")
	ensure(err)
	deepEqual(t, n, 0)
}

func TestPutGetRoundtrip(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))

	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		key       any
		value     any
		keyKind   Kind
		valueKind Kind
		wantKey   any
		wantValue any
	}{
		{"string-string", "alice", "admin", KindString, KindString, "alice", "admin"},
		{"long-long", int64(-5), int64(99), KindLong, KindLong, int64(-5), int64(99)},
		{"int-int", int32(3), int32(-3), KindInt, KindInt, int32(3), int32(-3)},
		{"id-double", uint64(17), 2.25, KindID, KindDouble, uint64(17), 2.25},
		{"byte-bool", byte(9), true, KindByte, KindBoolean, byte(9), true},
		{"bytes-bytes", []byte{1, 2}, []byte{3, 4}, KindBytes, KindBytes, []byte{1, 2}, []byte{3, 4}},
		{"instant-string", when, "event", KindInstant, KindString, when, "event"},
		{"string-data", "doc", map[string]any{"a": "b"}, KindString, KindData, "doc", map[string]any{"a": "b"}},
	}
	for _, tt := range tests {
		ensure(db.Transact([]Op{Put("d", tt.key, tt.value, tt.keyKind, tt.valueKind)}))
		ent, ok, err := db.Get("d", tt.key, tt.keyKind, tt.valueKind, false)
		ensure(err)
		if !ok {
			t.Errorf("** %s: key not found after put", tt.name)
			continue
		}
		deepEqual(t, ent.Key, tt.wantKey)
		deepEqual(t, ent.Value, tt.wantValue)
	}
}

func TestGetMissing(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))

	ent, ok, err := db.Get("d", "nope", KindString, KindString, false)
	ensure(err)
	deepEqual(t, ok, false)
	deepEqual(t, ent, Entry{})
}

func TestGetIgnoreKey(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))
	ensure(db.Transact([]Op{Put("d", "k", "v", KindString, KindString)}))

	ent, ok, err := db.Get("d", "k", KindString, KindString, true)
	ensure(err)
	deepEqual(t, ok, true)
	isnilany(t, ent.Key)
	deepEqual(t, ent.Value.(string), "v")

	_, _, err = db.Get("d", "k", KindString, KindIgnore, true)
	if err == nil {
		t.Errorf("** ignoring both key and value succeeded")
	}
}

func seq(from, to int64) []int64 {
	var out []int64
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
	} else {
		for i := from; i >= to; i-- {
			out = append(out, i)
		}
	}
	return out
}

func TestRangeKinds(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 20)

	o := func(rng Range, want []int64) {
		t.Helper()
		entries, err := db.GetRange("d", rng, KindLong, KindString, false)
		if err != nil {
			t.Errorf("** %v: %v", rng, err)
			return
		}
		got := keysOf(entries)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("** %v: got %v, wanted %v", rng, got, want)
		}
	}

	o(Range{Kind: RangeAll}, seq(1, 20))
	o(Range{Kind: RangeAllBack}, seq(20, 1))
	o(Range{Kind: RangeAtLeast, Start: int64(17)}, seq(17, 20))
	o(Range{Kind: RangeAtLeastBack, Start: int64(17)}, seq(20, 17))
	o(Range{Kind: RangeAtMost, Start: int64(4)}, seq(1, 4))
	o(Range{Kind: RangeAtMostBack, Start: int64(4)}, seq(4, 1))
	o(Range{Kind: RangeClosed, Start: int64(5), Stop: int64(10)}, seq(5, 10))
	o(Range{Kind: RangeClosedBack, Start: int64(10), Stop: int64(5)}, seq(10, 5))
	o(Range{Kind: RangeClosedOpen, Start: int64(5), Stop: int64(10)}, seq(5, 9))
	o(Range{Kind: RangeClosedOpenBack, Start: int64(10), Stop: int64(5)}, seq(10, 6))
	o(Range{Kind: RangeOpen, Start: int64(5), Stop: int64(10)}, seq(6, 9))
	o(Range{Kind: RangeOpenBack, Start: int64(10), Stop: int64(5)}, seq(9, 6))
	o(Range{Kind: RangeOpenClosed, Start: int64(5), Stop: int64(10)}, seq(6, 10))
	o(Range{Kind: RangeOpenClosedBack, Start: int64(10), Stop: int64(5)}, seq(9, 5))
	o(Range{Kind: RangeGreater, Start: int64(15)}, seq(16, 20))
	o(Range{Kind: RangeGreaterBack, Start: int64(15)}, seq(20, 16))
	o(Range{Kind: RangeLess, Start: int64(5)}, seq(1, 4))
	o(Range{Kind: RangeLessBack, Start: int64(5)}, seq(4, 1))

	// bounds absent from the data
	o(Range{Kind: RangeClosed, Start: int64(-3), Stop: int64(2)}, seq(1, 2))
	o(Range{Kind: RangeClosed, Start: int64(18), Stop: int64(99)}, seq(18, 20))
	o(Range{Kind: RangeClosed, Start: int64(30), Stop: int64(40)}, nil)
	o(Range{Kind: RangeOpen, Start: int64(7), Stop: int64(8)}, nil)
}

func TestRangeMissingBound(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 3)

	_, err := db.GetRange("d", Range{Kind: RangeClosed, Start: int64(1)}, KindLong, KindString, false)
	if err == nil {
		t.Fatalf("** closed range without second bound succeeded")
	}
	var de *DbiError
	if !errors.As(err, &de) {
		t.Errorf("** got %T, wanted DbiError", err)
	}
}

func TestGetFirst(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 20)

	ent, ok, err := db.GetFirst("d", Range{Kind: RangeClosed, Start: int64(5), Stop: int64(10)}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Key.(int64), int64(5))
	deepEqual(t, ent.Value.(string), "v05")

	ent, ok, err = db.GetFirst("d", Range{Kind: RangeClosedBack, Start: int64(10), Stop: int64(5)}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Key.(int64), int64(10))

	_, ok, err = db.GetFirst("d", Range{Kind: RangeClosed, Start: int64(30), Stop: int64(40)}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, false)
}

func TestPredicates(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 20)

	endsInZero := func(key, value []byte) bool {
		return bytes.HasSuffix(value, []byte("0"))
	}

	entries, err := db.RangeFilter("d", endsInZero, Range{Kind: RangeAll}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, keysOf(entries), []int64{10, 20})

	// filtering a scan must equal scanning then filtering
	all, err := db.GetRange("d", Range{Kind: RangeAll}, KindLong, KindString, false)
	ensure(err)
	var manual []Entry
	for _, e := range all {
		if strings.HasSuffix(e.Value.(string), "0") {
			manual = append(manual, e)
		}
	}
	deepEqual(t, entries, manual)

	ent, ok, err := db.GetSome("d", endsInZero, Range{Kind: RangeAll}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Key.(int64), int64(10))

	_, ok, err = db.GetSome("d", func(k, v []byte) bool { return false }, Range{Kind: RangeAll}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, false)
}

func TestRangeCount(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 20)

	n, err := db.RangeCount("d", Range{Kind: RangeAll}, KindLong)
	ensure(err)
	deepEqual(t, n, 20)

	n, err = db.RangeCount("d", Range{Kind: RangeClosed, Start: int64(5), Stop: int64(10)}, KindLong)
	ensure(err)
	deepEqual(t, n, 6)

	n, err = db.RangeCount("d", Range{Kind: RangeOpen, Start: int64(5), Stop: int64(10)}, KindLong)
	ensure(err)
	deepEqual(t, n, 4)
}

func TestDelete(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 5)

	ensure(db.Transact([]Op{Del("d", int64(3), KindLong)}))
	_, ok, err := db.Get("d", int64(3), KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, false)

	n, err := db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 4)

	// deleting an absent key is a no-op
	ensure(db.Transact([]Op{Del("d", int64(77), KindLong)}))
}

func TestNoOverwrite(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))
	ensure(db.Transact([]Op{Put("d", "k", "v1", KindString, KindString)}))

	err := db.Transact([]Op{PutWithFlags("d", "k", "v2", KindString, KindString, NoOverwrite)})
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("** got %v, wanted ErrKeyExists", err)
	}

	ent, _, err := db.Get("d", "k", KindString, KindString, false)
	ensure(err)
	deepEqual(t, ent.Value.(string), "v1")

	// overwriting without the flag succeeds
	ensure(db.Transact([]Op{Put("d", "k", "v2", KindString, KindString)}))
}

func TestTransactAtomic(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{}))

	err := db.Transact([]Op{
		Put("d", "a", "1", KindString, KindString),
		Put("nosuch", "b", "2", KindString, KindString),
	})
	if err == nil {
		t.Fatalf("** batch with unknown dbi succeeded")
	}

	_, ok, err := db.Get("d", "a", KindString, KindString, false)
	ensure(err)
	deepEqual(t, ok, false)
}

func TestValueBufferGrowth(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{ValueCapacity: 16}))

	big := strings.Repeat("x", 10000)
	ensure(db.Transact([]Op{Put("d", "big", big, KindString, KindString)}))

	ent, ok, err := db.Get("d", "big", KindString, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Value.(string), big)
}

func TestMapGrowth(t *testing.T) {
	db := setupOpt(t, Options{Backend: BackendMemory, InitialMapSize: 1024, IsTesting: true})
	ensure(db.OpenDbi("d", DbiOptions{}))

	payload := strings.Repeat("y", 100)
	var ops []Op
	for i := 1; i <= 100; i++ {
		ops = append(ops, Put("d", int64(i), payload, KindLong, KindString))
	}
	ensure(db.Transact(ops))

	if size := db.st.MapSize(); size <= 1024 {
		t.Errorf("** map size still %d after growth", size)
	}
	n, err := db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 100)

	ent, ok, err := db.Get("d", int64(100), KindLong, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Value.(string), payload)
}

func TestCompressedDbi(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("d", DbiOptions{Compress: true}))

	v := strings.Repeat("the same phrase over and over. ", 200)
	ensure(db.Transact([]Op{Put("d", "k", v, KindString, KindString)}))

	ent, ok, err := db.Get("d", "k", KindString, KindString, false)
	ensure(err)
	deepEqual(t, ok, true)
	deepEqual(t, ent.Value.(string), v)

	entries, err := db.GetRange("d", Range{Kind: RangeAll}, KindString, KindString, false)
	ensure(err)
	deepEqual(t, len(entries), 1)
	deepEqual(t, entries[0].Value.(string), v)
}

func TestClearDbi(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 10)

	ensure(db.ClearDbi("d"))
	n, err := db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 0)

	// the dbi stays usable
	ensure(db.Transact([]Op{Put("d", int64(1), "v", KindLong, KindString)}))
	n, err = db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 1)
}

func TestDropDbi(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 10)
	ensure(db.OpenDbi("other", DbiOptions{}))

	ensure(db.DropDbi("d"))
	deepEqual(t, db.ListDbis(), []string{"other"})

	if _, _, err := db.Get("d", int64(1), KindLong, KindString, false); err == nil {
		t.Errorf("** get on dropped dbi succeeded")
	}
	if err := db.DropDbi("d"); err == nil {
		t.Errorf("** dropping an unknown dbi succeeded")
	}
}

func TestClosedDB(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 3)
	ensure(db.Close())
	deepEqual(t, db.Closed(), true)

	_, _, err := db.Get("d", int64(1), KindLong, KindString, false)
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("** got %v, wanted ErrNotOpen", err)
	}
	if err := db.Transact([]Op{Put("d", int64(1), "v", KindLong, KindString)}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("** got %v, wanted ErrNotOpen", err)
	}
	if err := db.OpenDbi("e", DbiOptions{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("** got %v, wanted ErrNotOpen", err)
	}

	ensure(db.Close()) // second close is a no-op
}

func TestCounters(t *testing.T) {
	db := setup(t, BackendMemory)
	fill(t, db, "d", 3)

	w0 := db.WriteCount.Load()
	r0 := db.ReadCount.Load()
	ensure(db.Transact([]Op{Put("d", int64(9), "v", KindLong, KindString)}))
	_, _, err := db.Get("d", int64(9), KindLong, KindString, false)
	ensure(err)

	deepEqual(t, db.WriteCount.Load(), w0+1)
	deepEqual(t, db.ReadCount.Load(), r0+1)
}

func TestInstantRange(t *testing.T) {
	db := setup(t, BackendMemory)
	ensure(db.OpenDbi("events", DbiOptions{}))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ops []Op
	for i := 0; i < 10; i++ {
		ops = append(ops, Put("events", base.Add(time.Duration(i)*time.Hour), int64(i), KindInstant, KindLong))
	}
	ensure(db.Transact(ops))

	entries, err := db.GetRange("events",
		Range{Kind: RangeClosedOpen, Start: base.Add(2 * time.Hour), Stop: base.Add(5 * time.Hour)},
		KindInstant, KindLong, false)
	ensure(err)
	deepEqual(t, len(entries), 3)
	deepEqual(t, entries[0].Key.(time.Time), base.Add(2*time.Hour))
	deepEqual(t, entries[0].Value.(int64), int64(2))
	deepEqual(t, entries[2].Key.(time.Time), base.Add(4*time.Hour))
}

func TestBoltBackend(t *testing.T) {
	db := setup(t, BackendBolt)
	fill(t, db, "d", 20)

	entries, err := db.GetRange("d", Range{Kind: RangeClosedBack, Start: int64(10), Stop: int64(5)}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, keysOf(entries), seq(10, 5))

	n, err := db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 20)
}

func TestPebbleBackend(t *testing.T) {
	db := setup(t, BackendPebble)
	fill(t, db, "d", 20)

	entries, err := db.GetRange("d", Range{Kind: RangeClosedBack, Start: int64(10), Stop: int64(5)}, KindLong, KindString, false)
	ensure(err)
	deepEqual(t, keysOf(entries), seq(10, 5))

	ensure(db.ClearDbi("d"))
	n, err := db.EntryCount("d")
	ensure(err)
	deepEqual(t, n, 0)
}
