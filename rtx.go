package datalevin

import (
	"sync"
	"sync/atomic"
)

// rtx bundles one engine read-only transaction with its three scratch
// buffers: key, range-start and range-stop. A reader is claimed by exactly
// one goroutine for the duration of one read operation; renew and reset on
// the same reader are serialized by its mutex.
type rtx struct {
	mu    sync.Mutex
	txn   storageReadTx
	kb    *buf
	start *buf
	stop  *buf
	inUse bool
}

func newRtx(txn storageReadTx, keyCap int) *rtx {
	return &rtx{
		txn:   txn,
		kb:    newBuf(keyCap),
		start: newBuf(keyCap),
		stop:  newBuf(keyCap),
	}
}

// tryRenew claims an idle reader and revives its transaction against the
// latest committed state. Returns false without error if the reader is
// already in use.
func (r *rtx) tryRenew() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse {
		return false, nil
	}
	if err := r.txn.Renew(); err != nil {
		return false, err
	}
	r.inUse = true
	return true, nil
}

// release resets the engine transaction and clears the scratch buffers.
// Must run on every exit path of the read operation that claimed the
// reader; a leaked claim starves its slot permanently.
func (r *rtx) release() {
	r.mu.Lock()
	r.txn.Reset()
	r.kb.reset()
	r.start.reset()
	r.stop.reset()
	r.inUse = false
	r.mu.Unlock()
}

// rtxPool manages a bounded set of long-lived read transactions shared
// across goroutines. Slots are probed linearly from a rotating start slot;
// the pool grows lazily up to max and waits on a condition variable when
// saturated (releases signal it).
type rtxPool struct {
	st     storage
	max    int
	keyCap int
	seed   atomic.Uint64

	mu      sync.Mutex // guards readers and closed; per-reader state has its own lock
	cond    *sync.Cond
	readers []*rtx
	closed  bool
}

func newRtxPool(st storage, max, keyCap int) *rtxPool {
	p := &rtxPool{st: st, max: max, keyCap: keyCap}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// acquire returns a claimed, ready-to-use reader.
func (p *rtxPool) acquire() (*rtx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, ErrNotOpen
		}

		if n := len(p.readers); n > 0 {
			s0 := int(p.seed.Add(1) % uint64(n))
			for i := 0; i < n; i++ {
				r := p.readers[(s0+i)%n]
				ok, err := r.tryRenew()
				if err != nil {
					return nil, err
				}
				if ok {
					return r, nil
				}
			}
		}

		if len(p.readers) < p.max {
			txn, err := p.st.BeginRead()
			if err != nil {
				return nil, err
			}
			// A fresh transaction is already live; claim it directly.
			r := newRtx(txn, p.keyCap)
			r.inUse = true
			p.readers = append(p.readers, r)
			return r, nil
		}

		p.cond.Wait()
	}
}

// release returns a reader to the pool and wakes one waiter.
func (p *rtxPool) release(r *rtx) {
	r.release()
	p.mu.Lock()
	p.cond.Signal()
	p.mu.Unlock()
}

// close resets and closes every reader and empties the pool. Only valid
// when no reader is concurrently held.
func (p *rtxPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, r := range p.readers {
		r.mu.Lock()
		r.txn.Close()
		r.mu.Unlock()
	}
	p.readers = nil
	p.cond.Broadcast()
}

// size returns the current number of live readers.
func (p *rtxPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readers)
}
