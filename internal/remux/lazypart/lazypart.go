// Package lazypart implements a byte source whose contents are produced
// asynchronously on first touch, fetched at most once regardless of how
// many readers are waiting on it, modeled on original_source's
// LazyStringIO.
package lazypart

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces a part's bytes. It's called at most once per Part
// (or per fork, see Copy) between Closes, no matter how many goroutines
// call Reader concurrently -- golang.org/x/sync/singleflight guarantees the
// single-invocation property the original's ad hoc deferred-list gate
// provided by hand.
type FetchFunc func() ([]byte, error)

// Part is a lazily-materialized, fixed-size byte range. Size is known
// up front (the caller always knows how big an output segment will be
// before encoding produces it), so a FileContainer can compute byte-exact
// offsets without waiting on the fetch.
type Part struct {
	size  int64
	fetch FetchFunc

	mu   sync.Mutex
	data []byte // nil until fetched, or after Close
	g    *singleflight.Group
	key  string
}

var keySeq struct {
	mu sync.Mutex
	n  uint64
}

func nextKey() string {
	keySeq.mu.Lock()
	defer keySeq.mu.Unlock()
	keySeq.n++
	return fmt.Sprintf("part-%d", keySeq.n)
}

// New creates a Part of the given size backed by fetch.
func New(size int64, fetch FetchFunc) *Part {
	return &Part{size: size, fetch: fetch, g: &singleflight.Group{}, key: nextKey()}
}

// Size returns the part's fixed size, known without invoking fetch.
func (p *Part) Size() int64 { return p.size }

// Bytes returns the part's materialized bytes, invoking fetch at most
// once and blocking any concurrent caller until that single fetch
// completes.
func (p *Part) Bytes() ([]byte, error) {
	p.mu.Lock()
	if p.data != nil {
		defer p.mu.Unlock()
		return p.data, nil
	}
	fetch, g, key := p.fetch, p.g, p.key
	p.mu.Unlock()

	v, err, _ := g.Do(key, func() (interface{}, error) {
		b, err := fetch()
		if err != nil {
			return nil, err
		}
		if int64(len(b)) != p.size {
			return nil, fmt.Errorf("lazypart: fetch returned %d bytes, want %d", len(b), p.size)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	b := v.([]byte)

	p.mu.Lock()
	p.data = b
	p.mu.Unlock()
	return b, nil
}

// Reader returns an io.ReadSeeker over the part's materialized bytes,
// blocking until the fetch completes if the bytes are not yet loaded.
func (p *Part) Reader() (io.ReadSeeker, error) {
	b, err := p.Bytes()
	if err != nil {
		return nil, err
	}
	return &bytesReadSeeker{b: b}, nil
}

// Close drops the cached bytes, freeing memory at the cost of a refetch
// on next access. This mirrors LazyStringIO.close's behavior exactly
// (including losing previously materialized data) because a FileContainer
// closes parts it has fully delivered to a client and won't revisit them
// on that read path; a Copy (fork) that still needs the bytes gets its
// own fetch.
func (p *Part) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = nil
}

// Copy returns a new Part sharing this one's fetch function and size but
// with its own cache and its own singleflight group, so a forked reader
// doesn't block on (or get cancelled by) the original's fetch lifecycle.
func (p *Part) Copy() *Part {
	p.mu.Lock()
	fetch, size := p.fetch, p.size
	p.mu.Unlock()
	return New(size, fetch)
}

type bytesReadSeeker struct {
	b   []byte
	pos int64
}

func (r *bytesReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *bytesReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = int64(len(r.b))
	}
	np := base + offset
	if np < 0 || np > int64(len(r.b)) {
		return 0, fmt.Errorf("lazypart: seek out of range")
	}
	r.pos = np
	return np, nil
}
