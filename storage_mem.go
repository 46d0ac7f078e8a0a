package datalevin

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// memStorage is a transient in-memory engine intended for tests. Unlike
// the file-backed engines it accounts for every stored byte against a
// configurable map size and reports errMapFull when the limit is hit,
// which makes the grow-and-retry write path honestly exercisable.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	subs    map[string]*memSub
	mapSize int64
	used    int64
	closed  bool
	writer  bool
}

const defaultMemMapSize = 64 << 20

func newMemStorage(mapSize int64) storage {
	if mapSize <= 0 {
		mapSize = defaultMemMapSize
	}
	s := &memStorage{subs: make(map[string]*memSub), mapSize: mapSize}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginRead() (storageReadTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	return &memReadTx{base: s, subs: s.snapshotLocked()}, nil
}

func (s *memStorage) BeginWrite() (storageWriteTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	for s.writer && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	s.writer = true
	return &memWriteTx{base: s, subs: s.snapshotLocked(), used: s.used, limit: s.mapSize}, nil
}

// snapshotLocked clones the whole store for transactional isolation
// (simplicity over efficiency; this backend exists for tests).
func (s *memStorage) snapshotLocked() map[string]*memSub {
	snap := make(map[string]*memSub, len(s.subs))
	for k, b := range s.subs {
		snap[k] = b.clone()
	}
	return snap
}

func (s *memStorage) MapSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapSize
}

func (s *memStorage) SetMapSize(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size < s.mapSize {
		return fmt.Errorf("map size can only grow: %d < %d", size, s.mapSize)
	}
	s.mapSize = size
	return nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
	s.cond.Broadcast()
	return nil
}

type memReadTx struct {
	base *memStorage
	subs map[string]*memSub // nil while reset
}

func (tx *memReadTx) Sub(name string) storageSub {
	if tx.subs == nil {
		panic("read tx is reset")
	}
	b := tx.subs[name]
	if b == nil {
		return nil
	}
	return memSubHandle{b: b}
}

func (tx *memReadTx) Reset() {
	tx.subs = nil
}

func (tx *memReadTx) Renew() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		return fmt.Errorf("storage closed")
	}
	tx.subs = tx.base.snapshotLocked()
	return nil
}

func (tx *memReadTx) Close() error {
	tx.subs = nil
	return nil
}

type memWriteTx struct {
	base   *memStorage
	subs   map[string]*memSub
	used   int64
	limit  int64
	closed bool
}

func (tx *memWriteTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.base.writer = false
	tx.base.cond.Broadcast()
}

func (tx *memWriteTx) Sub(name string) storageSub {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.subs[name]
	if b == nil {
		return nil
	}
	return memSubHandle{tx: tx, b: b}
}

func (tx *memWriteTx) CreateSub(name string) (storageSub, error) {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.subs[name]
	if b == nil {
		b = &memSub{}
		tx.subs[name] = b
	}
	return memSubHandle{tx: tx, b: b}, nil
}

func (tx *memWriteTx) DeleteSub(name string) error {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.subs[name]
	if b == nil {
		return errSubNotFound
	}
	for _, kv := range b.items {
		tx.used -= int64(len(kv.key) + len(kv.value))
	}
	delete(tx.subs, name)
	return nil
}

func (tx *memWriteTx) Commit() error {
	if tx.closed {
		return nil
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.subs = tx.subs
	tx.base.used = tx.used
	tx.closeLocked()
	return nil
}

func (tx *memWriteTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memSub struct {
	items []memKV // sorted by key
}

type memKV struct {
	key   []byte
	value []byte
}

func (b *memSub) clone() *memSub {
	if b == nil {
		return nil
	}
	out := &memSub{items: make([]memKV, len(b.items))}
	for i, kv := range b.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	return out
}

func (b *memSub) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memSubHandle binds a sub-store to its transaction; tx is nil for
// read-only views.
type memSubHandle struct {
	tx *memWriteTx
	b  *memSub
}

func (h memSubHandle) Get(key []byte) []byte {
	i, ok := h.b.find(key)
	if !ok {
		return nil
	}
	return h.b.items[i].value
}

func (h memSubHandle) Put(key, value []byte) error {
	if h.tx == nil {
		return fmt.Errorf("tx not writable")
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := h.b.find(key)
	var delta int64
	if ok {
		delta = int64(len(value) - len(h.b.items[i].value))
	} else {
		delta = int64(len(key) + len(value))
	}
	if h.tx.used+delta > h.tx.limit {
		return errMapFull
	}
	h.tx.used += delta

	if ok {
		h.b.items[i].value = value
		return nil
	}
	h.b.items = slices.Insert(h.b.items, i, memKV{key: key, value: value})
	return nil
}

func (h memSubHandle) Delete(key []byte) error {
	if h.tx == nil {
		return fmt.Errorf("tx not writable")
	}
	i, ok := h.b.find(key)
	if !ok {
		return nil
	}
	h.tx.used -= int64(len(key) + len(h.b.items[i].value))
	h.b.items = slices.Delete(h.b.items, i, i+1)
	return nil
}

func (h memSubHandle) Cursor() storageCursor {
	return &memCursor{b: h.b, pos: -1}
}

func (h memSubHandle) KeyCount() int { return len(h.b.items) }

type memCursor struct {
	b   *memSub
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.pair()
}

func (c *memCursor) Last() ([]byte, []byte) {
	c.pos = len(c.b.items) - 1
	return c.pair()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	c.pos = sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.pair()
}

func (c *memCursor) SeekLast(bound []byte) ([]byte, []byte) {
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, bound) > 0
	})
	c.pos = i - 1
	return c.pair()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	return c.pair()
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	c.pos--
	return c.pair()
}

func (c *memCursor) Close() error { return nil }

func (c *memCursor) pair() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}
