package datalevin

import (
	"github.com/golang/snappy"
)

const (
	// defaultKeyCapacity matches the engine's customary maximum key size.
	defaultKeyCapacity = 511
	// defaultValueCapacity is the initial size of a dbi's write-side value
	// buffer; it grows on overflow.
	defaultValueCapacity = 16384
)

// DbiOptions configures a named sub-store at open time.
type DbiOptions struct {
	// KeyCapacity is the fixed capacity of the dbi's key buffer.
	// Defaults to 511 bytes.
	KeyCapacity int
	// ValueCapacity is the initial capacity of the dbi's value buffer.
	// The buffer is reallocated when a value outgrows it. Defaults to 16 KiB.
	ValueCapacity int
	// Compress stores values snappy-compressed. Keys are never compressed,
	// so ordering is unaffected.
	Compress bool
}

func (o DbiOptions) withDefaults() DbiOptions {
	if o.KeyCapacity <= 0 {
		o.KeyCapacity = defaultKeyCapacity
	}
	if o.ValueCapacity <= 0 {
		o.ValueCapacity = defaultValueCapacity
	}
	return o
}

// dbi is a named sub-store handle: the registry entry pairing a sub-store
// name with its write-side scratch buffers. The buffers are used only by
// write and drop paths, never by pooled readers, and are serialized by the
// engine's single-writer transaction model.
type dbi struct {
	name     string
	kb       *buf
	vb       *buf
	compress bool
}

func newDbi(name string, opt DbiOptions) *dbi {
	opt = opt.withDefaults()
	return &dbi{
		name:     name,
		kb:       newBuf(opt.KeyCapacity),
		vb:       newBuf(opt.ValueCapacity),
		compress: opt.Compress,
	}
}

// encodeValue stages v in the dbi's value buffer, reallocating it once at
// the measured required size if the encoding overflows. A second overflow
// after reallocation is fatal.
func (d *dbi) encodeValue(v any, kind Kind) ([]byte, error) {
	d.vb.reset()
	err := encodeInto(d.vb, v, kind)
	if ovf, ok := overflow(err); ok {
		d.vb.reallocate(ovf.Required)
		err = encodeInto(d.vb, v, kind)
	}
	if err != nil {
		return nil, err
	}
	if d.compress {
		return snappy.Encode(nil, d.vb.data()), nil
	}
	return d.vb.data(), nil
}

// decodeValue reverses encodeValue for a raw value window.
func (d *dbi) decodeValue(raw []byte, kind Kind) (any, error) {
	if d.compress {
		plain, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, codecErrf(kind, err, "decompressing %d bytes", len(raw))
		}
		raw = plain
	}
	return decode(raw, kind)
}

func overflow(err error) (*OverflowError, bool) {
	if err == nil {
		return nil, false
	}
	ovf, ok := err.(*OverflowError)
	return ovf, ok
}
