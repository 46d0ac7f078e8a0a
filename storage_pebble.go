package datalevin

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Pebble has no named namespaces, so sub-stores are simulated with key
// prefixes: data keys are 0x01 <name> 0x00 <key>, and each sub-store is
// registered under a 0x00 meta key so existence checks and drops work.
// Sub-store names must not contain NUL bytes.
const (
	pebbleMetaTag = 0x00
	pebbleDataTag = 0x01
)

func pebbleMetaKey(name string) []byte {
	return append([]byte{pebbleMetaTag}, name...)
}

func pebbleDataPrefix(name string) []byte {
	p := append([]byte{pebbleDataTag}, name...)
	return append(p, 0x00)
}

type pebbleStorage struct {
	pdb   *pebble.DB
	wopts *pebble.WriteOptions

	// Pebble does not serialize batches itself the way a single-writer
	// engine does; writeMu is held from BeginWrite to Commit/Rollback.
	writeMu sync.Mutex
}

func openPebbleStorage(path string, opt Options) (storage, error) {
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	wopts := pebble.Sync
	if opt.IsTesting {
		wopts = pebble.NoSync
	}
	return &pebbleStorage{pdb: pdb, wopts: wopts}, nil
}

func (s *pebbleStorage) BeginRead() (storageReadTx, error) {
	return &pebbleReadTx{st: s, snap: s.pdb.NewSnapshot()}, nil
}

func (s *pebbleStorage) BeginWrite() (storageWriteTx, error) {
	s.writeMu.Lock()
	return &pebbleWriteTx{st: s, batch: s.pdb.NewIndexedBatch()}, nil
}

// Pebble sizes its own storage; map-full is never reported.
func (s *pebbleStorage) MapSize() int64 { return 0 }

func (s *pebbleStorage) SetMapSize(size int64) error { return nil }

func (s *pebbleStorage) Close() error {
	return s.pdb.Close()
}

// pebbleReader is the read surface shared by snapshots and indexed
// batches.
type pebbleReader interface {
	Get(key []byte) ([]byte, func() error, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type snapshotReader struct {
	snap *pebble.Snapshot
}

func (r snapshotReader) Get(key []byte) ([]byte, func() error, error) {
	v, closer, err := r.snap.Get(key)
	if err != nil {
		return nil, nil, err
	}
	return v, closer.Close, nil
}

func (r snapshotReader) NewIter(o *pebble.IterOptions) (*pebble.Iterator, error) {
	return r.snap.NewIter(o)
}

type batchReader struct {
	batch *pebble.Batch
}

func (r batchReader) Get(key []byte) ([]byte, func() error, error) {
	v, closer, err := r.batch.Get(key)
	if err != nil {
		return nil, nil, err
	}
	return v, closer.Close, nil
}

func (r batchReader) NewIter(o *pebble.IterOptions) (*pebble.Iterator, error) {
	return r.batch.NewIter(o)
}

type pebbleReadTx struct {
	st   *pebbleStorage
	snap *pebble.Snapshot
}

func (tx *pebbleReadTx) Sub(name string) storageSub {
	if tx.snap == nil {
		return nil
	}
	return pebbleSubIfExists(snapshotReader{tx.snap}, name, nil)
}

func (tx *pebbleReadTx) Reset() {
	if tx.snap != nil {
		tx.snap.Close()
		tx.snap = nil
	}
}

func (tx *pebbleReadTx) Renew() error {
	if tx.snap == nil {
		tx.snap = tx.st.pdb.NewSnapshot()
	}
	return nil
}

func (tx *pebbleReadTx) Close() error {
	tx.Reset()
	return nil
}

type pebbleWriteTx struct {
	st    *pebbleStorage
	batch *pebble.Batch
	done  bool
}

func (tx *pebbleWriteTx) finish() {
	if !tx.done {
		tx.done = true
		tx.st.writeMu.Unlock()
	}
}

func (tx *pebbleWriteTx) Sub(name string) storageSub {
	return pebbleSubIfExists(batchReader{tx.batch}, name, tx.batch)
}

func (tx *pebbleWriteTx) CreateSub(name string) (storageSub, error) {
	if err := tx.batch.Set(pebbleMetaKey(name), nil, nil); err != nil {
		return nil, err
	}
	return &pebbleSub{r: batchReader{tx.batch}, batch: tx.batch, prefix: pebbleDataPrefix(name)}, nil
}

func (tx *pebbleWriteTx) DeleteSub(name string) error {
	meta := pebbleMetaKey(name)
	_, closeVal, err := tx.batch.Get(meta)
	if err == pebble.ErrNotFound {
		return errSubNotFound
	}
	if err != nil {
		return err
	}
	closeVal.Close()

	prefix := pebbleDataPrefix(name)
	if err := tx.batch.DeleteRange(prefix, prefixSuccessor(prefix), nil); err != nil {
		return err
	}
	return tx.batch.Delete(meta, nil)
}

func (tx *pebbleWriteTx) Commit() error {
	if tx.done {
		return nil
	}
	err := tx.batch.Commit(tx.st.wopts)
	tx.batch.Close()
	tx.finish()
	return err
}

func (tx *pebbleWriteTx) Rollback() error {
	if tx.done {
		return nil
	}
	err := tx.batch.Close()
	tx.finish()
	return err
}

func pebbleSubIfExists(r pebbleReader, name string, batch *pebble.Batch) storageSub {
	_, closeVal, err := r.Get(pebbleMetaKey(name))
	if err != nil {
		return nil
	}
	closeVal()
	return &pebbleSub{r: r, batch: batch, prefix: pebbleDataPrefix(name)}
}

// pebbleSub scopes all operations to the sub-store's key prefix; cursor
// and Get see and return keys with the prefix stripped.
type pebbleSub struct {
	r      pebbleReader
	batch  *pebble.Batch // nil in read transactions
	prefix []byte
}

func (s *pebbleSub) fullKey(key []byte) []byte {
	return append(append([]byte(nil), s.prefix...), key...)
}

func (s *pebbleSub) Get(key []byte) []byte {
	v, closeVal, err := s.r.Get(s.fullKey(key))
	if err != nil {
		return nil
	}
	out := bytes.Clone(v)
	closeVal()
	return out
}

func (s *pebbleSub) Put(key, value []byte) error {
	return s.batch.Set(s.fullKey(key), value, nil)
}

func (s *pebbleSub) Delete(key []byte) error {
	return s.batch.Delete(s.fullKey(key), nil)
}

func (s *pebbleSub) Cursor() storageCursor {
	it, err := s.r.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: prefixSuccessor(s.prefix),
	})
	if err != nil {
		return brokenCursor{}
	}
	return &pebbleCursor{it: it, prefix: s.prefix}
}

func (s *pebbleSub) KeyCount() int {
	it, err := s.r.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: prefixSuccessor(s.prefix),
	})
	if err != nil {
		return 0
	}
	defer it.Close()
	var n int
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n
}

type pebbleCursor struct {
	it     *pebble.Iterator
	prefix []byte
}

func (c *pebbleCursor) pair() ([]byte, []byte) {
	if !c.it.Valid() {
		return nil, nil
	}
	return c.it.Key()[len(c.prefix):], c.it.Value()
}

func (c *pebbleCursor) First() ([]byte, []byte) {
	c.it.First()
	return c.pair()
}

func (c *pebbleCursor) Last() ([]byte, []byte) {
	c.it.Last()
	return c.pair()
}

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) {
	c.it.SeekGE(append(append([]byte(nil), c.prefix...), seek...))
	return c.pair()
}

func (c *pebbleCursor) SeekLast(bound []byte) ([]byte, []byte) {
	full := append(append([]byte(nil), c.prefix...), bound...)
	if !c.it.SeekGE(full) {
		c.it.Last()
		return c.pair()
	}
	if bytes.Equal(c.it.Key(), full) {
		return c.pair()
	}
	c.it.Prev()
	return c.pair()
}

func (c *pebbleCursor) Next() ([]byte, []byte) {
	c.it.Next()
	return c.pair()
}

func (c *pebbleCursor) Prev() ([]byte, []byte) {
	c.it.Prev()
	return c.pair()
}

func (c *pebbleCursor) Close() error { return c.it.Close() }

// brokenCursor stands in when an iterator could not be opened; it yields
// nothing.
type brokenCursor struct{}

func (brokenCursor) First() ([]byte, []byte)          { return nil, nil }
func (brokenCursor) Last() ([]byte, []byte)           { return nil, nil }
func (brokenCursor) Seek([]byte) ([]byte, []byte)     { return nil, nil }
func (brokenCursor) SeekLast([]byte) ([]byte, []byte) { return nil, nil }
func (brokenCursor) Next() ([]byte, []byte)           { return nil, nil }
func (brokenCursor) Prev() ([]byte, []byte)           { return nil, nil }
func (brokenCursor) Close() error                     { return nil }
