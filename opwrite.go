package datalevin

import (
	"errors"
)

// PutFlags modify a single put operation.
type PutFlags uint8

const (
	// NoOverwrite rejects the put if the key already exists.
	NoOverwrite PutFlags = 1 << iota
)

// ErrKeyExists is reported by a NoOverwrite put whose key is present.
var ErrKeyExists = errors.New("key already exists")

type opCode uint8

const (
	opPut opCode = iota
	opDel
)

// Op is a pure description of one mutation in a write batch. Descriptions
// have no external side effects, so a batch is safe to re-run after the
// map is grown.
type Op struct {
	code      opCode
	dbi       string
	key       any
	value     any
	keyKind   Kind
	valueKind Kind
	flags     PutFlags
}

// Put describes storing value under key in the named sub-store.
func Put(dbiName string, key, value any, keyKind, valueKind Kind) Op {
	return Op{code: opPut, dbi: dbiName, key: key, value: value, keyKind: keyKind, valueKind: valueKind}
}

// PutWithFlags is Put with engine put flags.
func PutWithFlags(dbiName string, key, value any, keyKind, valueKind Kind, flags PutFlags) Op {
	op := Put(dbiName, key, value, keyKind, valueKind)
	op.flags = flags
	return op
}

// Del describes deleting key from the named sub-store.
func Del(dbiName string, key any, keyKind Kind) Op {
	return Op{code: opDel, dbi: dbiName, key: key, keyKind: keyKind}
}

// Transact applies an ordered batch of operations inside one engine write
// transaction, committed atomically at the end. When the engine reports
// the mapped region full, the map is grown by mapGrowthFactor and the
// whole batch is re-executed from scratch, once per growth event. Any
// other failure aborts the transaction.
func (db *DB) Transact(ops []Op) error {
	if err := db.checkOpen("", "transact"); err != nil {
		return err
	}

	for {
		err := db.transactOnce(ops)
		if err == nil {
			db.WriteCount.Add(1)
			return nil
		}
		if errors.Is(err, errMapFull) {
			if gerr := db.growMap(); gerr != nil {
				return dbiErrf("", "transact", gerr, "growing map after %v", err)
			}
			continue
		}
		return err
	}
}

func (db *DB) transactOnce(ops []Op) error {
	wtx, err := db.st.BeginWrite()
	if err != nil {
		return dbiErrf("", "transact", err, "begin write")
	}
	committed := false
	defer func() {
		if !committed {
			wtx.Rollback()
		}
	}()

	for i, op := range ops {
		if err := db.applyOp(wtx, op); err != nil {
			return dbiErrf(op.dbi, "transact", err, "batch op %d/%d", i+1, len(ops))
		}
	}

	if err := wtx.Commit(); err != nil {
		if errors.Is(err, errMapFull) {
			return err
		}
		return dbiErrf("", "transact", err, "commit")
	}
	committed = true
	return nil
}

func (db *DB) applyOp(wtx storageWriteTx, op Op) error {
	d, err := db.lookupDbi(op.dbi, "transact")
	if err != nil {
		return err
	}
	sub := wtx.Sub(d.name)
	if sub == nil {
		return dbiErrf(d.name, "transact", nil, "sub-store missing from engine")
	}

	d.kb.reset()
	if err := encodeInto(d.kb, op.key, op.keyKind); err != nil {
		return &DbiError{Dbi: d.name, Op: "transact", KeyKind: op.keyKind, Msg: "encoding key", Err: err}
	}
	key := d.kb.data()

	switch op.code {
	case opPut:
		if op.flags&NoOverwrite != 0 && sub.Get(key) != nil {
			return &DbiError{Dbi: d.name, Op: "transact", Msg: "put", Err: ErrKeyExists}
		}
		val, err := d.encodeValue(op.value, op.valueKind)
		if err != nil {
			return &DbiError{Dbi: d.name, Op: "transact", ValueKind: op.valueKind, Msg: "encoding value", Err: err}
		}
		return sub.Put(key, val)
	case opDel:
		return sub.Delete(key)
	default:
		return dbiErrf(d.name, "transact", nil, "unknown op code %d", op.code)
	}
}

func (db *DB) growMap() error {
	size := db.st.MapSize()
	if size <= 0 {
		return errors.New("engine does not support map growth")
	}
	newSize := size * mapGrowthFactor
	db.logln("kv: growing map %d -> %d bytes", size, newSize)
	return db.st.SetMapSize(newSize)
}
