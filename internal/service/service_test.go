package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karthikpasupathy/yearview/internal/errs"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestValidateColor(t *testing.T) {
	t.Parallel()
	for _, c := range []string{"#4285F4", "#000000", "#abcdef"} {
		if err := validateColor(c); err != nil {
			t.Fatalf("%s: unexpected %v", c, err)
		}
	}
	for _, c := range []string{"", "4285F4", "#4285F", "#GGGGGG", "#4285F4F"} {
		if err := validateColor(c); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%q: want ErrValidation, got %v", c, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	v, err := validateName("name", "  Work ")
	if err != nil || v != "Work" {
		t.Fatalf("got %q, %v", v, err)
	}
	if _, err := validateName("name", "   "); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(lockKey("u", "c"))
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("critical section entered concurrently: %d", maxInside)
	}
	if len(k.locks) != 0 {
		t.Fatalf("locks not released: %d", len(k.locks))
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()
	a := k.Lock(lockKey("u", "a"))
	done := make(chan struct{})
	go func() {
		b := k.Lock(lockKey("u", "b"))
		b()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different keys must not block each other")
	}
	a()
}

func TestLockKey_NoAmbiguity(t *testing.T) {
	t.Parallel()
	if lockKey("ab", "c") == lockKey("a", "bc") {
		t.Fatal("keys collide")
	}
}
