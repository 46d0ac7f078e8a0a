package datalevin

import "errors"

// errMapFull is the distinguished failure an engine reports when the mapped
// storage region is exhausted. Transact reacts by growing the map and
// re-running the batch; see DB.Transact.
var errMapFull = errors.New("storage map full")

// errSubNotFound is returned by storageWriteTx.DeleteSub when the sub-store
// doesn't exist.
var errSubNotFound = errors.New("sub-store not found")

// storage represents an embedded ordered key-value engine (Bolt, Pebble,
// in-memory, etc.). The engine owns durability, page management and write
// serialization; this layer only multiplexes access to it.
type storage interface {
	// BeginRead starts a read-only transaction. The transaction is live
	// until Reset and can be revived with Renew.
	BeginRead() (storageReadTx, error)

	// BeginWrite starts a read-write transaction. Engines serialize writers;
	// BeginWrite blocks until the previous writer finishes.
	BeginWrite() (storageWriteTx, error)

	// MapSize returns the current maximum mapped size in bytes
	// (0 if the engine manages its own mapping).
	MapSize() int64

	// SetMapSize grows the maximum mapped size. Engines that resize
	// themselves treat this as a no-op.
	SetMapSize(size int64) error

	// Close closes the storage.
	Close() error
}

// storageReadTx is a reusable read-only transaction.
type storageReadTx interface {
	// Sub returns a read-only view of a named sub-store, or nil if it
	// doesn't exist. Only valid between Renew (or BeginRead) and Reset.
	Sub(name string) storageSub

	// Reset releases the transaction's snapshot but keeps the handle for
	// a later Renew.
	Reset()

	// Renew revives a reset transaction against the latest committed state.
	Renew() error

	// Close releases the handle for good.
	Close() error
}

// storageWriteTx is a single-use read-write transaction.
type storageWriteTx interface {
	// Sub returns a writable sub-store, or nil if it doesn't exist.
	Sub(name string) storageSub

	// CreateSub creates a sub-store if it doesn't exist.
	CreateSub(name string) (storageSub, error)

	// DeleteSub deletes a sub-store and all its entries.
	DeleteSub(name string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback() error
}

// storageSub represents a named sub-store (sorted key-value namespace).
type storageSub interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair. Returns errMapFull if the mapped
	// region is exhausted.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration. The caller must Close it.
	Cursor() storageCursor

	// KeyCount returns the number of keys in the sub-store (best effort).
	KeyCount() int
}

// storageCursor iterates over a sorted sub-store. Returned key and value
// slices alias engine memory and are only valid until the next positioning
// call or until the owning transaction resets.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key <= bound.
	SeekLast(bound []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Close releases the cursor.
	Close() error
}
