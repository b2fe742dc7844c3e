package container

import (
	"io"
	"testing"
	"time"
)

func TestReadBlocksUntilWriteThenDone(t *testing.T) {
	c := New()
	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.WriteElement(Static([]byte("hello ")))
		c.WriteElement(Static([]byte("world")))
		c.MarkDone()
		close(done)
	}()

	buf := make([]byte, 11)
	n, err := io.ReadFull(c, buf)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf[:n]) != "hello world" {
		t.Fatalf("got %q", buf[:n])
	}
	<-done

	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF after done, got %v", err)
	}
}

func TestSeekToKnownElement(t *testing.T) {
	c := New()
	c.WriteElement(Static([]byte("0123456789")))
	c.WriteElement(Static([]byte("abcdefghij")))
	c.MarkDone()

	if _, err := c.Seek(12, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 3)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "cde" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestSeekPastEndOfDoneContainerFails(t *testing.T) {
	c := New()
	c.WriteElement(Static([]byte("hi")))
	c.MarkDone()

	if _, err := c.Seek(100, io.SeekStart); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCopyForkMirrorsFutureWrites(t *testing.T) {
	c := New()
	c.WriteElement(Static([]byte("first")))

	fork := c.Copy()

	c.WriteElement(Static([]byte("second")))
	c.MarkDone()

	buf := make([]byte, 11)
	n, err := io.ReadFull(fork, buf)
	if err != nil {
		t.Fatalf("ReadFull on fork: %v", err)
	}
	if string(buf[:n]) != "firstsecond" {
		t.Fatalf("fork got %q", buf[:n])
	}
}

func TestSizeUnknownUntilDone(t *testing.T) {
	c := New()
	c.WriteElement(Static([]byte("abc")))
	if _, ok := c.Size(); ok {
		t.Fatalf("size should be unknown before MarkDone")
	}
	c.MarkDone()
	size, ok := c.Size()
	if !ok || size != 3 {
		t.Fatalf("size = %d, ok = %v, want 3, true", size, ok)
	}
}
