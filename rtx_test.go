package datalevin

import (
	"sync"
	"testing"
	"time"
)

func TestPoolGrowsLazily(t *testing.T) {
	st := newMemStorage(0)
	defer st.Close()
	p := newRtxPool(st, 4, 64)
	defer p.close()

	deepEqual(t, p.size(), 0)

	r1 := must(p.acquire())
	deepEqual(t, p.size(), 1)
	r2 := must(p.acquire())
	deepEqual(t, p.size(), 2)

	p.release(r1)
	p.release(r2)

	// released slots are reused instead of growing the pool
	r3 := must(p.acquire())
	r4 := must(p.acquire())
	deepEqual(t, p.size(), 2)
	p.release(r3)
	p.release(r4)
}

func TestPoolBlocksWhenSaturated(t *testing.T) {
	st := newMemStorage(0)
	defer st.Close()
	p := newRtxPool(st, 2, 64)
	defer p.close()

	r1 := must(p.acquire())
	r2 := must(p.acquire())

	acquired := make(chan *rtx)
	go func() {
		acquired <- must(p.acquire())
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("** acquire succeeded beyond pool capacity")
	default:
	}

	p.release(r1)
	r3 := <-acquired
	deepEqual(t, p.size(), 2)
	p.release(r2)
	p.release(r3)
}

func TestPoolConcurrentUse(t *testing.T) {
	st := newMemStorage(0)
	defer st.Close()
	p := newRtxPool(st, 4, 64)
	defer p.close()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r := must(p.acquire())
				p.release(r)
			}
		}()
	}
	wg.Wait()

	if n := p.size(); n > 4 {
		t.Errorf("** pool grew to %d readers, max is 4", n)
	}
}

func TestPoolClosed(t *testing.T) {
	st := newMemStorage(0)
	p := newRtxPool(st, 2, 64)
	r := must(p.acquire())
	p.release(r)

	p.close()
	st.Close()

	if _, err := p.acquire(); err != ErrNotOpen {
		t.Errorf("** got %v, wanted ErrNotOpen", err)
	}
}
