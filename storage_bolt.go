package datalevin

import (
	"bytes"
	"time"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb     *bbolt.DB
	mapSize int64
}

func openBoltStorage(path string, opt Options) (storage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.InitialMapSize != 0 {
		bopt.InitialMmapSize = int(opt.InitialMapSize)
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb, mapSize: int64(bopt.InitialMmapSize)}, nil
}

func (s *boltStorage) BeginRead() (storageReadTx, error) {
	btx, err := s.bdb.Begin(false)
	if err != nil {
		return nil, err
	}
	return &boltReadTx{bdb: s.bdb, btx: btx}, nil
}

func (s *boltStorage) BeginWrite() (storageWriteTx, error) {
	btx, err := s.bdb.Begin(true)
	if err != nil {
		return nil, err
	}
	return &boltWriteTx{btx: btx}, nil
}

// Bolt remaps its own file as it grows, so the map size here is nominal
// and map-full is never reported.
func (s *boltStorage) MapSize() int64 { return s.mapSize }

func (s *boltStorage) SetMapSize(size int64) error {
	s.mapSize = size
	return nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

// boltReadTx emulates reset/renew over Bolt's one-shot read transactions:
// renew opens a fresh transaction, which sees the latest committed state,
// same as a renewed native reader would.
type boltReadTx struct {
	bdb *bbolt.DB
	btx *bbolt.Tx
}

func (tx *boltReadTx) Sub(name string) storageSub {
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		return nil
	}
	return boltSub{b: b}
}

func (tx *boltReadTx) Reset() {
	if tx.btx != nil {
		tx.btx.Rollback()
		tx.btx = nil
	}
}

func (tx *boltReadTx) Renew() error {
	if tx.btx != nil {
		return nil
	}
	btx, err := tx.bdb.Begin(false)
	if err != nil {
		return err
	}
	tx.btx = btx
	return nil
}

func (tx *boltReadTx) Close() error {
	tx.Reset()
	return nil
}

type boltWriteTx struct {
	btx *bbolt.Tx
}

func (tx *boltWriteTx) Sub(name string) storageSub {
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		return nil
	}
	return boltSub{b: b}
}

func (tx *boltWriteTx) CreateSub(name string) (storageSub, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltSub{b: b}, nil
}

func (tx *boltWriteTx) DeleteSub(name string) error {
	err := tx.btx.DeleteBucket([]byte(name))
	if err == bbolt.ErrBucketNotFound {
		return errSubNotFound
	}
	return err
}

func (tx *boltWriteTx) Commit() error { return tx.btx.Commit() }

func (tx *boltWriteTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltSub struct {
	b *bbolt.Bucket
}

func (s boltSub) Get(key []byte) []byte { return s.b.Get(key) }

func (s boltSub) Put(key, value []byte) error { return s.b.Put(key, value) }

func (s boltSub) Delete(key []byte) error { return s.b.Delete(key) }

func (s boltSub) Cursor() storageCursor { return &boltCursor{c: s.b.Cursor()} }

func (s boltSub) KeyCount() int { return s.b.Stats().KeyN }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c *boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c *boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c *boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c *boltCursor) SeekLast(bound []byte) ([]byte, []byte) {
	k, v := c.c.Seek(bound)
	if k == nil {
		return c.c.Last()
	}
	if bytes.Equal(k, bound) {
		return k, v
	}
	return c.c.Prev()
}

func (c *boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c *boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c *boltCursor) Close() error { return nil }
