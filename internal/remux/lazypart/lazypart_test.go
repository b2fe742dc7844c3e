package lazypart

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFetchInvokedOnceUnderConcurrency(t *testing.T) {
	var calls int32
	p := New(5, func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("hello"), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := p.Bytes()
			if err != nil {
				errs <- err
				return
			}
			if string(b) != "hello" {
				errs <- io.ErrUnexpectedEOF
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
}

func TestCloseDropsCache(t *testing.T) {
	var calls int32
	p := New(3, func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("abc"), nil
	})
	if _, err := p.Bytes(); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p.Close()
	if _, err := p.Bytes(); err != nil {
		t.Fatalf("Bytes after close: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("fetch called %d times after close+refetch, want 2", got)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	var calls int32
	p := New(3, func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("xyz"), nil
	})
	if _, err := p.Bytes(); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	fork := p.Copy()
	if _, err := fork.Bytes(); err != nil {
		t.Fatalf("fork Bytes: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("fetch called %d times, want 2 (original + independent fork)", got)
	}
}
