package datalevin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Backend selects the embedded engine behind a DB.
type Backend int

const (
	// BackendBolt stores data in a single memory-mapped B+tree file.
	BackendBolt Backend = iota
	// BackendPebble stores data in an LSM directory.
	BackendPebble
	// BackendMemory keeps data in process memory; intended for tests.
	BackendMemory
)

// Options configures Open.
type Options struct {
	// Backend selects the storage engine. Defaults to BackendBolt.
	Backend Backend
	// InitialMapSize is the initial maximum mapped size in bytes.
	// Grown automatically when a write batch hits the limit.
	InitialMapSize int64
	// MaxReaders bounds the pool of reusable read transactions.
	// Defaults to 126.
	MaxReaders int
	// KeyCapacity is the capacity of pooled readers' scratch buffers.
	// Defaults to 511 bytes.
	KeyCapacity int
	// Logf receives diagnostic output. Nil disables it.
	Logf func(format string, args ...any)
	// IsTesting relaxes durability settings on engines that support it.
	IsTesting bool
}

const (
	defaultMaxReaders = 126
	mapGrowthFactor   = 2
)

// DB is the access layer over one storage environment: a registry of named
// sub-stores, a pool of reusable read transactions, and batched write
// transactions with automatic map growth.
type DB struct {
	st   storage
	pool *rtxPool
	logf func(format string, args ...any)

	dbisLock sync.RWMutex
	dbis     map[string]*dbi

	closed atomic.Bool

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

// Open opens (creating if necessary) a database at path using the engine
// selected in opt. Path is ignored by the memory backend.
func Open(path string, opt Options) (*DB, error) {
	if opt.MaxReaders <= 0 {
		opt.MaxReaders = defaultMaxReaders
	}
	if opt.KeyCapacity <= 0 {
		opt.KeyCapacity = defaultKeyCapacity
	}

	var st storage
	var err error
	switch opt.Backend {
	case BackendBolt:
		st, err = openBoltStorage(path, opt)
	case BackendPebble:
		st, err = openPebbleStorage(path, opt)
	case BackendMemory:
		st = newMemStorage(opt.InitialMapSize)
	default:
		return nil, fmt.Errorf("kv: unknown backend %d", opt.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}

	db := &DB{
		st:   st,
		pool: newRtxPool(st, opt.MaxReaders, opt.KeyCapacity),
		logf: opt.Logf,
		dbis: make(map[string]*dbi),
	}
	return db, nil
}

// Close closes the reader pool and the underlying engine. Further
// operations report ErrNotOpen.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	db.pool.close()
	return db.st.Close()
}

// Closed reports whether Close has been called.
func (db *DB) Closed() bool {
	return db.closed.Load()
}

func (db *DB) logln(format string, args ...any) {
	if db.logf != nil {
		db.logf(format, args...)
	}
}

// checkOpen is the first gate of every operation.
func (db *DB) checkOpen(dbiName, op string) error {
	if db.closed.Load() {
		return dbiErrf(dbiName, op, ErrNotOpen, "")
	}
	return nil
}

// lookupDbi resolves a registry entry; an unknown name is fatal to the
// calling operation.
func (db *DB) lookupDbi(name, op string) (*dbi, error) {
	db.dbisLock.RLock()
	d := db.dbis[name]
	db.dbisLock.RUnlock()
	if d == nil {
		return nil, dbiErrf(name, op, nil, "dbi not open")
	}
	return d, nil
}

// OpenDbi creates (if necessary) and registers a named sub-store.
// Idempotent: reopening an already-open dbi keeps the existing handle and
// its buffers.
//
// The registry lock is never held across an engine transaction: write
// batches take it (shared) per op while holding the engine's single write
// slot, so the reverse order would deadlock.
func (db *DB) OpenDbi(name string, opt DbiOptions) error {
	if err := db.checkOpen(name, "open-dbi"); err != nil {
		return err
	}
	if strings.ContainsRune(name, 0) {
		return dbiErrf(name, "open-dbi", nil, "name must not contain NUL bytes")
	}

	if _, err := db.lookupDbi(name, "open-dbi"); err == nil {
		return nil
	}

	wtx, err := db.st.BeginWrite()
	if err != nil {
		return dbiErrf(name, "open-dbi", err, "begin write")
	}
	if _, err := wtx.CreateSub(name); err != nil {
		wtx.Rollback()
		return dbiErrf(name, "open-dbi", err, "create sub-store")
	}
	if err := wtx.Commit(); err != nil {
		return dbiErrf(name, "open-dbi", err, "commit")
	}

	db.dbisLock.Lock()
	defer db.dbisLock.Unlock()
	if db.dbis[name] == nil {
		db.dbis[name] = newDbi(name, opt)
	}
	return nil
}

// DropDbi deletes all entries of a sub-store, removes its engine namespace
// and drops its registry entry. Irreversible.
func (db *DB) DropDbi(name string) error {
	if err := db.checkOpen(name, "drop-dbi"); err != nil {
		return err
	}
	if _, err := db.lookupDbi(name, "drop-dbi"); err != nil {
		return err
	}

	wtx, err := db.st.BeginWrite()
	if err != nil {
		return dbiErrf(name, "drop-dbi", err, "begin write")
	}
	if err := wtx.DeleteSub(name); err != nil {
		wtx.Rollback()
		return dbiErrf(name, "drop-dbi", err, "delete sub-store")
	}
	if err := wtx.Commit(); err != nil {
		return dbiErrf(name, "drop-dbi", err, "commit")
	}

	db.dbisLock.Lock()
	delete(db.dbis, name)
	db.dbisLock.Unlock()
	return nil
}

// ClearDbi deletes all entries of a sub-store but keeps it open.
func (db *DB) ClearDbi(name string) error {
	if err := db.checkOpen(name, "clear-dbi"); err != nil {
		return err
	}
	if _, err := db.lookupDbi(name, "clear-dbi"); err != nil {
		return err
	}

	wtx, err := db.st.BeginWrite()
	if err != nil {
		return dbiErrf(name, "clear-dbi", err, "begin write")
	}
	if err := wtx.DeleteSub(name); err != nil {
		wtx.Rollback()
		return dbiErrf(name, "clear-dbi", err, "delete sub-store")
	}
	if _, err := wtx.CreateSub(name); err != nil {
		wtx.Rollback()
		return dbiErrf(name, "clear-dbi", err, "recreate sub-store")
	}
	if err := wtx.Commit(); err != nil {
		return dbiErrf(name, "clear-dbi", err, "commit")
	}
	return nil
}

// ListDbis returns the names of all open sub-stores, sorted.
func (db *DB) ListDbis() []string {
	db.dbisLock.RLock()
	defer db.dbisLock.RUnlock()
	names := make([]string, 0, len(db.dbis))
	for name := range db.dbis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntryCount returns the number of entries in a sub-store using a pooled
// reader; it does not mutate state.
func (db *DB) EntryCount(name string) (int, error) {
	if err := db.checkOpen(name, "entry-count"); err != nil {
		return 0, err
	}
	if _, err := db.lookupDbi(name, "entry-count"); err != nil {
		return 0, err
	}

	r, err := db.pool.acquire()
	if err != nil {
		return 0, dbiErrf(name, "entry-count", err, "acquire reader")
	}
	defer db.pool.release(r)
	db.ReadCount.Add(1)

	sub := r.txn.Sub(name)
	if sub == nil {
		return 0, dbiErrf(name, "entry-count", nil, "sub-store missing from engine")
	}
	return sub.KeyCount(), nil
}
