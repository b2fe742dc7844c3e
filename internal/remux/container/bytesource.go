package container

import (
	"fmt"
	"io"

	"github.com/tidalstreamer/mkvremux/internal/remux/lazypart"
)

// Element is one of a FileContainer's ordered byte ranges: either a
// static, already-known byte slice (the EBML header, SeekHead, Tracks
// copy, Cluster headers, Void padding -- anything the planner can produce
// synchronously) or a lazily-fetched part (an encoded segment still being
// produced).
type Element struct {
	static []byte
	lazy   *lazypart.Part
	size   int64
}

// Static wraps an already-known byte slice.
func Static(b []byte) *Element {
	return &Element{static: b, size: int64(len(b))}
}

// Lazy wraps a part whose bytes are produced asynchronously.
func Lazy(p *lazypart.Part) *Element {
	return &Element{lazy: p, size: p.Size()}
}

// Size returns the element's byte length, known at construction time
// whether or not the bytes have been produced yet.
func (e *Element) Size() int64 { return e.size }

// reader returns a fresh, independent read cursor over this element's
// bytes. For a lazy element this blocks until the underlying fetch
// completes.
func (e *Element) reader() (io.ReadSeeker, error) {
	if e.static != nil {
		return newByteReadSeeker(e.static), nil
	}
	return e.lazy.Reader()
}

// mirror produces an independent copy of this element for a forked
// container: a static element's bytes are simply shared (they're
// immutable once written), a lazy element gets its own Part that shares
// the fetch function but fetches independently, matching
// LazyStringIO.copy's semantics.
func (e *Element) mirror() *Element {
	if e.static != nil {
		return &Element{static: e.static, size: e.size}
	}
	return &Element{lazy: e.lazy.Copy(), size: e.size}
}

type byteReadSeeker struct {
	b   []byte
	pos int64
}

func newByteReadSeeker(b []byte) *byteReadSeeker { return &byteReadSeeker{b: b} }

func (r *byteReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *byteReadSeeker) Seek(offset int64, whence int) (int64, error) {
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
		return 0, fmt.Errorf("container: seek out of range")
	}
	r.pos = np
	return np, nil
}
