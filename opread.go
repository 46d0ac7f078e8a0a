package datalevin

// Entry is one decoded key-value result.
type Entry struct {
	Key   any
	Value any
}

// Pred examines the raw, undecoded key and value views yielded by engine
// iteration. The slices alias engine memory and are only valid for the
// duration of the call; copy them if they must survive it.
type Pred func(key, value []byte) bool

// checkProjection rejects the contract violation of asking for neither key
// nor value before any native call is made.
func checkProjection(dbiName, op string, valueKind Kind, ignoreKey bool) error {
	if ignoreKey && valueKind == KindIgnore {
		return &DbiError{Dbi: dbiName, Op: op, ValueKind: valueKind,
			Msg: "ignoring both key and value leaves no result"}
	}
	return nil
}

// Get performs a point lookup. The second result is false when the key is
// absent; that is a normal outcome, not an error. With ignoreKey the
// returned entry carries only the value.
func (db *DB) Get(dbiName string, key any, keyKind, valueKind Kind, ignoreKey bool) (Entry, bool, error) {
	const op = "get"
	if err := db.checkOpen(dbiName, op); err != nil {
		return Entry{}, false, err
	}
	if err := checkProjection(dbiName, op, valueKind, ignoreKey); err != nil {
		return Entry{}, false, err
	}
	d, err := db.lookupDbi(dbiName, op)
	if err != nil {
		return Entry{}, false, err
	}

	r, err := db.pool.acquire()
	if err != nil {
		return Entry{}, false, dbiErrf(dbiName, op, err, "acquire reader")
	}
	defer db.pool.release(r)
	db.ReadCount.Add(1)

	sub := r.txn.Sub(dbiName)
	if sub == nil {
		return Entry{}, false, dbiErrf(dbiName, op, nil, "sub-store missing from engine")
	}

	if err := encodeInto(r.kb, key, keyKind); err != nil {
		return Entry{}, false, &DbiError{Dbi: dbiName, Op: op, KeyKind: keyKind, Msg: "encoding key", Err: err}
	}
	raw := sub.Get(r.kb.data())
	if raw == nil {
		return Entry{}, false, nil
	}

	ent, err := db.decodeEntry(d, r.kb.data(), raw, keyKind, valueKind, ignoreKey)
	if err != nil {
		return Entry{}, false, &DbiError{Dbi: dbiName, Op: op, KeyKind: keyKind, ValueKind: valueKind, Msg: "decoding", Err: err}
	}
	return ent, true, nil
}

// GetFirst returns the first entry of a range, if any.
func (db *DB) GetFirst(dbiName string, rng Range, keyKind, valueKind Kind, ignoreKey bool) (Entry, bool, error) {
	var result Entry
	var found bool
	err := db.scanRange(dbiName, "get-first", rng, keyKind, valueKind, ignoreKey, nil,
		func(ent Entry) bool {
			result, found = ent, true
			return false
		})
	return result, found, err
}

// GetRange returns every entry of a range in the range's direction.
func (db *DB) GetRange(dbiName string, rng Range, keyKind, valueKind Kind, ignoreKey bool) ([]Entry, error) {
	var result []Entry
	err := db.scanRange(dbiName, "get-range", rng, keyKind, valueKind, ignoreKey, nil,
		func(ent Entry) bool {
			result = append(result, ent)
			return true
		})
	return result, err
}

// GetSome returns the first entry of the range whose raw key-value view
// satisfies pred. Entries the predicate rejects are never decoded.
func (db *DB) GetSome(dbiName string, pred Pred, rng Range, keyKind, valueKind Kind, ignoreKey bool) (Entry, bool, error) {
	var result Entry
	var found bool
	err := db.scanRange(dbiName, "get-some", rng, keyKind, valueKind, ignoreKey, pred,
		func(ent Entry) bool {
			result, found = ent, true
			return false
		})
	return result, found, err
}

// RangeFilter returns every entry of the range whose raw key-value view
// satisfies pred, in the range's direction.
func (db *DB) RangeFilter(dbiName string, pred Pred, rng Range, keyKind, valueKind Kind, ignoreKey bool) ([]Entry, error) {
	var result []Entry
	err := db.scanRange(dbiName, "range-filter", rng, keyKind, valueKind, ignoreKey, pred,
		func(ent Entry) bool {
			result = append(result, ent)
			return true
		})
	return result, err
}

// RangeCount returns the number of entries in a range without decoding any
// of them.
func (db *DB) RangeCount(dbiName string, rng Range, keyKind Kind) (int, error) {
	const op = "range-count"
	if err := db.checkOpen(dbiName, op); err != nil {
		return 0, err
	}
	if _, err := db.lookupDbi(dbiName, op); err != nil {
		return 0, err
	}

	r, err := db.pool.acquire()
	if err != nil {
		return 0, dbiErrf(dbiName, op, err, "acquire reader")
	}
	defer db.pool.release(r)
	db.ReadCount.Add(1)

	sub := r.txn.Sub(dbiName)
	if sub == nil {
		return 0, dbiErrf(dbiName, op, nil, "sub-store missing from engine")
	}
	raw, err := encodeRange(r, rng, keyKind)
	if err != nil {
		return 0, &DbiError{Dbi: dbiName, Op: op, Rng: rng.String(), KeyKind: keyKind, Msg: "encoding range", Err: err}
	}

	cur := sub.Cursor()
	defer cur.Close()
	var n int
	for k, _ := raw.start(cur); k != nil; k, _ = raw.next(cur) {
		n++
	}
	return n, nil
}

// scanRange is the shared iteration skeleton of the range queries: acquire
// a reader, encode bounds into its scratch buffers, translate the range,
// walk the cursor, filter on the raw view, decode survivors, emit until
// the sink declines. The reader and cursor are released on every exit
// path.
func (db *DB) scanRange(dbiName, op string, rng Range, keyKind, valueKind Kind, ignoreKey bool, pred Pred, emit func(Entry) bool) error {
	if err := db.checkOpen(dbiName, op); err != nil {
		return err
	}
	if err := checkProjection(dbiName, op, valueKind, ignoreKey); err != nil {
		return err
	}
	d, err := db.lookupDbi(dbiName, op)
	if err != nil {
		return err
	}

	r, err := db.pool.acquire()
	if err != nil {
		return dbiErrf(dbiName, op, err, "acquire reader")
	}
	defer db.pool.release(r)
	db.ReadCount.Add(1)

	sub := r.txn.Sub(dbiName)
	if sub == nil {
		return dbiErrf(dbiName, op, nil, "sub-store missing from engine")
	}
	raw, err := encodeRange(r, rng, keyKind)
	if err != nil {
		return &DbiError{Dbi: dbiName, Op: op, Rng: rng.String(), KeyKind: keyKind, Msg: "encoding range", Err: err}
	}

	cur := sub.Cursor()
	defer cur.Close()
	for k, v := raw.start(cur); k != nil; k, v = raw.next(cur) {
		if pred != nil && !pred(k, v) {
			continue
		}
		ent, err := db.decodeEntry(d, k, v, keyKind, valueKind, ignoreKey)
		if err != nil {
			return &DbiError{Dbi: dbiName, Op: op, Rng: rng.String(), KeyKind: keyKind, ValueKind: valueKind, Msg: "decoding", Err: err}
		}
		if !emit(ent) {
			return nil
		}
	}
	return nil
}

// encodeRange stages the range bounds in the reader's start/stop buffers
// and translates the descriptor into engine-native bounds.
func encodeRange(r *rtx, rng Range, keyKind Kind) (rawRange, error) {
	var start, stop []byte
	if rng.Kind.needsStart() {
		if rng.Start == nil {
			return rawRange{}, codecErrf(keyKind, nil, "%v range requires a first bound", rng.Kind)
		}
		if err := encodeInto(r.start, rng.Start, keyKind); err != nil {
			return rawRange{}, err
		}
		start = r.start.data()
	}
	if rng.Kind.needsStop() {
		if rng.Stop == nil {
			return rawRange{}, codecErrf(keyKind, nil, "%v range requires a second bound", rng.Kind)
		}
		if err := encodeInto(r.stop, rng.Stop, keyKind); err != nil {
			return rawRange{}, err
		}
		stop = r.stop.data()
	}
	return translate(rng.Kind, start, stop), nil
}

// decodeEntry decodes one raw pair eagerly, so the result outlives the
// iteration step that produced it.
func (db *DB) decodeEntry(d *dbi, rawKey, rawValue []byte, keyKind, valueKind Kind, ignoreKey bool) (Entry, error) {
	var ent Entry
	if !ignoreKey {
		k, err := decode(rawKey, keyKind)
		if err != nil {
			return Entry{}, err
		}
		ent.Key = k
	}
	if valueKind != KindIgnore {
		v, err := d.decodeValue(rawValue, valueKind)
		if err != nil {
			return Entry{}, err
		}
		ent.Value = v
	}
	return ent, nil
}
