package stopsignal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRaiseWakesAllObservers(t *testing.T) {
	s := New()
	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-s.Done()
		}()
	}

	s.Raise()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all observers woke up within one second of Raise")
	}
	assert.True(t, s.Raised())
}

func TestRaiseIsIdempotent(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() {
		s.Raise()
		s.Raise()
		s.Raise()
	})
	assert.True(t, s.Raised())
}

func TestDoneStaysOpenBeforeRaise(t *testing.T) {
	s := New()
	select {
	case <-s.Done():
		t.Fatal("Done() should not be closed before Raise")
	default:
	}
}
