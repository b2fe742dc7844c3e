// Package container implements FileContainer: an ordered sequence of
// byte-range elements presented as a single seekable stream, grown
// incrementally by a producer while clients read from it concurrently.
// It is the Go counterpart of original_source's container.py, adapted
// from Twisted's single-threaded deferred style to goroutines guarded by
// a mutex, per the recommendation that a multi-threaded target wrap every
// container and lazy part in a lock.
package container

import (
	"fmt"
	"io"
	"sync"
)

type slot struct {
	el       *Element
	absStart int64
}

// FileContainer is an append-only, fork-able virtual file. The canonical
// instance is grown by a producer via WriteElement/MarkDone; each HTTP
// request that wants its own read cursor over the same (possibly still
// growing) content calls Copy to get a fork that mirrors every element
// written to the canonical container from then on.
type FileContainer struct {
	mu   sync.Mutex
	cond *sync.Cond

	elements  []slot
	totalSize int64
	done      bool
	closed    bool

	pos       int64
	curIdx    int
	curReader io.ReadSeeker

	parent   *FileContainer
	children map[*FileContainer]bool
}

// New creates an empty canonical container.
func New() *FileContainer {
	c := &FileContainer{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ErrClosed is returned by Read/Seek once a container has been closed.
var ErrClosed = fmt.Errorf("container: closed")

// ErrOutOfRange is returned by Seek when asked to seek past the end of a
// container that is already done (spec's resolved Open Question: a seek
// past known data waits for growth while the container isn't done yet,
// and only fails once it's clear no more data is coming).
var ErrOutOfRange = fmt.Errorf("container: seek position out of range")

// WriteElement appends el to the container, waking any blocked readers,
// and mirrors it into every live fork.
func (c *FileContainer) WriteElement(el *Element) {
	c.mu.Lock()
	c.appendLocked(el)
	forks := c.forksLocked()
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, f := range forks {
		f.WriteElement(el.mirror())
	}
}

func (c *FileContainer) appendLocked(el *Element) {
	c.elements = append(c.elements, slot{el: el, absStart: c.totalSize})
	c.totalSize += el.Size()
}

func (c *FileContainer) forksLocked() []*FileContainer {
	out := make([]*FileContainer, 0, len(c.children))
	for f := range c.children {
		out = append(out, f)
	}
	return out
}

// MarkDone declares that no further elements will be written. The
// container's total size becomes knowable from this point on, whether or
// not every element's bytes have actually been produced yet -- the
// planner computes sizes ahead of encoding, so "done" here means
// "fully planned", not "fully encoded".
func (c *FileContainer) MarkDone() {
	c.mu.Lock()
	c.done = true
	forks := c.forksLocked()
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, f := range forks {
		f.MarkDone()
	}
}

// Size reports the container's total byte length. The second return
// value is false until MarkDone has been called.
func (c *FileContainer) Size() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		return 0, false
	}
	return c.totalSize, true
}

// Tell returns the current read position.
func (c *FileContainer) Tell() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Read implements io.Reader, blocking when the read cursor has caught up
// to the end of what's been written but the container isn't done yet.
func (c *FileContainer) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for total < len(p) {
		if c.closed {
			if total > 0 {
				return total, nil
			}
			return 0, ErrClosed
		}
		if c.curIdx >= len(c.elements) {
			if c.done {
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			c.cond.Wait()
			continue
		}
		if c.curReader == nil {
			r, err := c.elements[c.curIdx].el.reader()
			if err != nil {
				return total, err
			}
			c.curReader = r
		}
		n, err := c.curReader.Read(p[total:])
		total += n
		c.pos += int64(n)
		if err == io.EOF {
			// Crossing a part boundary closes a lazy part, dropping its
			// materialized bytes; a later seek back into it re-fetches.
			if lazy := c.elements[c.curIdx].el.lazy; lazy != nil {
				lazy.Close()
			}
			c.curReader = nil
			c.curIdx++
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seek implements io.Seeker. Seeking to a position not yet covered by a
// written element blocks (like Read) until either more data arrives or
// the container is marked done, at which point an out-of-range seek
// fails with ErrOutOfRange rather than hanging forever.
func (c *FileContainer) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.pos + offset
	case io.SeekEnd:
		for !c.done {
			if c.closed {
				return 0, ErrClosed
			}
			c.cond.Wait()
		}
		target = c.totalSize + offset
	default:
		return 0, fmt.Errorf("container: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("container: negative seek position")
	}

	for {
		if c.closed {
			return 0, ErrClosed
		}
		idx, rel, ok := c.locateLocked(target)
		if ok {
			r, err := c.elements[idx].el.reader()
			if err != nil {
				return 0, err
			}
			if rel > 0 {
				if _, err := r.Seek(rel, io.SeekStart); err != nil {
					return 0, err
				}
			}
			c.curIdx = idx
			c.curReader = r
			c.pos = target
			return target, nil
		}
		if target == c.totalSize {
			// Exactly at the current end: valid, just nothing to read yet.
			c.curIdx = len(c.elements)
			c.curReader = nil
			c.pos = target
			return target, nil
		}
		if c.done {
			return 0, ErrOutOfRange
		}
		c.cond.Wait()
	}
}

// locateLocked finds the element covering absolute offset pos via a
// linear scan, the same approach container.py's seek takes (element
// counts are small -- tens, not thousands).
func (c *FileContainer) locateLocked(pos int64) (idx int, rel int64, ok bool) {
	for i, s := range c.elements {
		if pos >= s.absStart && pos < s.absStart+s.el.Size() {
			return i, pos - s.absStart, true
		}
	}
	return 0, 0, false
}

// Copy creates a fork: a fresh FileContainer that immediately mirrors
// every element already written to c, and which c will keep mirroring
// new writes into until the fork is Closed. Each fork gets its own read
// cursor, independent of the canonical container's.
func (c *FileContainer) Copy() *FileContainer {
	c.mu.Lock()
	defer c.mu.Unlock()

	fork := New()
	for _, s := range c.elements {
		fork.appendLocked(s.el.mirror())
	}
	fork.done = c.done
	fork.parent = c

	if c.children == nil {
		c.children = make(map[*FileContainer]bool)
	}
	c.children[fork] = true
	return fork
}

// Close detaches this container from its parent (if it's a fork) and
// wakes any blocked readers with ErrClosed.
func (c *FileContainer) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	parent := c.parent
	c.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		delete(parent.children, c)
		parent.mu.Unlock()
	}
}
