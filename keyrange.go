package datalevin

import (
	"bytes"
	"fmt"
)

// RangeKind tags a key interval. Every kind has a -Back twin iterating the
// same interval in descending order; for two-bound -Back kinds the first
// bound is the iteration start (the high end).
type RangeKind int

const (
	RangeAll RangeKind = iota + 1
	RangeAllBack
	RangeAtLeast
	RangeAtLeastBack
	RangeAtMost
	RangeAtMostBack
	RangeClosed
	RangeClosedBack
	RangeClosedOpen
	RangeClosedOpenBack
	RangeOpen
	RangeOpenBack
	RangeOpenClosed
	RangeOpenClosedBack
	RangeGreater
	RangeGreaterBack
	RangeLess
	RangeLessBack
)

func (k RangeKind) String() string {
	switch k {
	case RangeAll:
		return "all"
	case RangeAllBack:
		return "all-back"
	case RangeAtLeast:
		return "at-least"
	case RangeAtLeastBack:
		return "at-least-back"
	case RangeAtMost:
		return "at-most"
	case RangeAtMostBack:
		return "at-most-back"
	case RangeClosed:
		return "closed"
	case RangeClosedBack:
		return "closed-back"
	case RangeClosedOpen:
		return "closed-open"
	case RangeClosedOpenBack:
		return "closed-open-back"
	case RangeOpen:
		return "open"
	case RangeOpenBack:
		return "open-back"
	case RangeOpenClosed:
		return "open-closed"
	case RangeOpenClosedBack:
		return "open-closed-back"
	case RangeGreater:
		return "greater-than"
	case RangeGreaterBack:
		return "greater-than-back"
	case RangeLess:
		return "less-than"
	case RangeLessBack:
		return "less-than-back"
	default:
		return fmt.Sprintf("range-kind(%d)", int(k))
	}
}

// needsStart reports whether the kind requires the first bound;
// needsStop whether it requires the second.
func (k RangeKind) needsStart() bool {
	return k != RangeAll && k != RangeAllBack
}

func (k RangeKind) needsStop() bool {
	switch k {
	case RangeClosed, RangeClosedBack, RangeClosedOpen, RangeClosedOpenBack,
		RangeOpen, RangeOpenBack, RangeOpenClosed, RangeOpenClosedBack:
		return true
	}
	return false
}

// Range is a declarative key interval. Start and Stop are application-level
// values in the key kind of the target sub-store; nil means unbounded on
// that side.
type Range struct {
	Kind  RangeKind
	Start any
	Stop  any
}

func (r Range) String() string {
	if r.Stop != nil {
		return fmt.Sprintf("%v %v %v", r.Kind, r.Start, r.Stop)
	}
	if r.Start != nil {
		return fmt.Sprintf("%v %v", r.Kind, r.Start)
	}
	return r.Kind.String()
}

// rawRange is the engine-native form of a Range: encoded bounds plus
// direction. Comparison is deferred entirely to the engine's byte order.
type rawRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

// translate maps a range kind and its encoded bounds to a directed raw
// range. The mapping is exhaustive over RangeKind; start and stop are the
// encoded first and second bounds (nil when absent).
func translate(kind RangeKind, start, stop []byte) rawRange {
	switch kind {
	case RangeAll:
		return rawRange{}
	case RangeAllBack:
		return rawRange{Reverse: true}
	case RangeAtLeast:
		return rawRange{Lower: start, LowerInc: true}
	case RangeAtLeastBack:
		return rawRange{Lower: start, LowerInc: true, Reverse: true}
	case RangeAtMost:
		return rawRange{Upper: start, UpperInc: true}
	case RangeAtMostBack:
		return rawRange{Upper: start, UpperInc: true, Reverse: true}
	case RangeClosed:
		return rawRange{Lower: start, Upper: stop, LowerInc: true, UpperInc: true}
	case RangeClosedBack:
		return rawRange{Lower: stop, Upper: start, LowerInc: true, UpperInc: true, Reverse: true}
	case RangeClosedOpen:
		return rawRange{Lower: start, Upper: stop, LowerInc: true}
	case RangeClosedOpenBack:
		return rawRange{Lower: stop, Upper: start, UpperInc: true, Reverse: true}
	case RangeOpen:
		return rawRange{Lower: start, Upper: stop}
	case RangeOpenBack:
		return rawRange{Lower: stop, Upper: start, Reverse: true}
	case RangeOpenClosed:
		return rawRange{Lower: start, Upper: stop, UpperInc: true}
	case RangeOpenClosedBack:
		return rawRange{Lower: stop, Upper: start, LowerInc: true, Reverse: true}
	case RangeGreater:
		return rawRange{Lower: start}
	case RangeGreaterBack:
		return rawRange{Lower: start, Reverse: true}
	case RangeLess:
		return rawRange{Upper: start}
	case RangeLessBack:
		return rawRange{Upper: start, Reverse: true}
	default:
		panic(fmt.Errorf("unknown range kind %v", kind))
	}
}

// start positions the cursor on the first pair of the range in its
// iteration direction, or (nil, nil) if the range is empty.
func (r rawRange) start(c storageCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		if r.Upper != nil {
			k, v = c.SeekLast(r.Upper)
			if k != nil && !r.UpperInc && bytes.Equal(k, r.Upper) {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
	} else {
		if r.Lower != nil {
			k, v = c.Seek(r.Lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

// next advances the cursor one pair in the range's direction.
func (r rawRange) next(c storageCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = c.Prev()
	} else {
		k, v = c.Next()
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

// match checks the stop-side bound (the start side is handled by
// positioning).
func (r rawRange) match(k []byte) bool {
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp < 0 || (cmp == 0 && !r.LowerInc) {
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp > 0 || (cmp == 0 && !r.UpperInc) {
				return false
			}
		}
	}
	return true
}
