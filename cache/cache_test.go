package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leftmike/mdb/cache"
)

type resource struct {
	key     uint64
	evicted bool
}

func TestGetRelease(t *testing.T) {
	var loads, evicts int
	c := cache.New[*resource](2,
		func(key uint64) (*resource, error) {
			loads += 1
			return &resource{key: key}, nil
		},
		func(r *resource) error {
			evicts += 1
			r.evicted = true
			return nil
		})

	r1, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get(1) failed with %s", err)
	}
	r1b, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get(1) failed with %s", err)
	}
	if r1 != r1b || loads != 1 {
		t.Errorf("Get(1) twice: got %d loads want 1", loads)
	}

	_, err = c.Get(2)
	if err != nil {
		t.Fatalf("Get(2) failed with %s", err)
	}
	_, err = c.Get(3)
	if !errors.Is(err, cache.ErrCacheFull) {
		t.Errorf("Get(3) got %v want %s", err, cache.ErrCacheFull)
	}

	if err := c.Release(1); err != nil {
		t.Fatalf("Release(1) failed with %s", err)
	}
	if r1.evicted {
		t.Errorf("Release(1): evicted with a reference outstanding")
	}
	if err := c.Release(1); err != nil {
		t.Fatalf("Release(1) failed with %s", err)
	}
	if !r1.evicted || evicts != 1 {
		t.Errorf("Release(1): got evicted %v, %d evicts; want true, 1", r1.evicted, evicts)
	}

	_, err = c.Get(3)
	if err != nil {
		t.Errorf("Get(3) after release failed with %s", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() got %d want 2", c.Len())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	if c.Len() != 0 || evicts != 3 {
		t.Errorf("Close(): got %d resident, %d evicts; want 0, 3", c.Len(), evicts)
	}
}

func TestLoadError(t *testing.T) {
	fail := true
	c := cache.New[int](1,
		func(key uint64) (int, error) {
			if fail {
				return 0, errors.New("load failed")
			}
			return int(key), nil
		},
		func(v int) error { return nil })

	if _, err := c.Get(7); err == nil {
		t.Errorf("Get(7) did not fail")
	}

	fail = false
	v, err := c.Get(7)
	if err != nil {
		t.Fatalf("Get(7) failed with %s", err)
	}
	if v != 7 {
		t.Errorf("Get(7) got %d want 7", v)
	}
}

func TestReleaseUnknown(t *testing.T) {
	c := cache.New[int](0,
		func(key uint64) (int, error) { return 0, nil },
		func(v int) error { return nil })

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Release(99) did not panic")
		}
	}()
	c.Release(99)
}

func TestSingleFetch(t *testing.T) {
	var loads int32
	c := cache.New[uint64](0,
		func(key uint64) (uint64, error) {
			atomic.AddInt32(&loads, 1)
			time.Sleep(20 * time.Millisecond)
			return key * 10, nil
		},
		func(v uint64) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			v, err := c.Get(5)
			if err != nil {
				t.Errorf("Get(5) failed with %s", err)
				return
			}
			if v != 50 {
				t.Errorf("Get(5) got %d want 50", v)
			}
		}()
	}
	wg.Wait()

	if loads != 1 {
		t.Errorf("concurrent Get(5): got %d loads want 1", loads)
	}
	for i := 0; i < 8; i++ {
		if err := c.Release(5); err != nil {
			t.Fatalf("Release(5) failed with %s", err)
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len() got %d want 0", c.Len())
	}
}
