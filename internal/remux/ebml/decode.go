package ebml

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ErrNotSeekHead is returned when a Segment's first child is not a
// SeekHead element, mirroring original_source's NoUsefulInfoFoundException:
// a source file laid out this differently can't be probed the fast way.
var ErrNotSeekHead = errors.New("ebml: first segment child is not SeekHead")

// Source is the random-access stream a Reader decodes from. RemoteFile and
// *os.File both satisfy it.
type Source interface {
	io.ReaderAt
}

// Element is a decoded header plus a handle back to its source, letting
// callers read its payload (or a nested iteration over it) lazily.
type Element struct {
	ID     ID
	Size   uint64
	Unknown bool

	src        Source
	payloadOff int64
	headerLen  int64
}

// End returns the absolute offset one past this element's payload, valid
// only when Size is known (Unknown is false).
func (e Element) End() int64 { return e.payloadOff + int64(e.Size) }

// PayloadOffset is the absolute offset of this element's first payload byte.
func (e Element) PayloadOffset() int64 { return e.payloadOff }

// Payload returns a reader restricted to exactly this element's payload
// bytes (an io.SectionReader-backed child stream).
func (e Element) Payload() *io.SectionReader {
	return io.NewSectionReader(e.src, e.payloadOff, int64(e.Size))
}

// RawBytes reads this element's full on-the-wire form, header included.
func (e Element) RawBytes() ([]byte, error) {
	buf := make([]byte, e.headerLen+int64(e.Size))
	_, err := io.ReadFull(io.NewSectionReader(e.src, e.payloadOff-e.headerLen, int64(len(buf))), buf)
	return buf, err
}

// Children returns an iterator over this element's payload, treating it
// as a container of sub-elements.
func (e Element) Children() *Iter {
	return NewIter(e.src, e.payloadOff, e.payloadOff+int64(e.Size))
}

// Uint decodes this element's payload as a big-endian unsigned integer, the
// form EBML uses for UInteger elements (TimecodeScale, TrackNumber, ...).
func (e Element) Uint() (uint64, error) {
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(e.Payload(), buf); err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Float decodes a 4- or 8-byte IEEE-754 Float element.
func (e Element) Float() (float64, error) {
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(e.Payload(), buf); err != nil {
		return 0, err
	}
	switch len(buf) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(buf))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("ebml: unexpected float element size %d", len(buf))
	}
}

// String decodes the payload as a raw string (String/UTF-8 elements).
func (e Element) String() (string, error) {
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(e.Payload(), buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Bytes returns the raw payload bytes, for Binary elements.
func (e Element) Bytes() ([]byte, error) {
	buf := make([]byte, e.Size)
	_, err := io.ReadFull(e.Payload(), buf)
	return buf, err
}

// Date decodes an 8-byte DateUTC element (nanoseconds since
// 2001-01-01T00:00:00Z).
func (e Element) Date() (time.Time, error) {
	v, err := e.Uint()
	if err != nil {
		return time.Time{}, err
	}
	return dateEpoch.Add(time.Duration(int64(v))), nil
}

// Iter walks sibling elements within [start, end) of src, reading headers
// lazily as Next is called -- it never materializes a part it isn't asked
// for, matching read_elements_iter's laziness.
type Iter struct {
	src      Source
	pos, end int64
}

func NewIter(src Source, start, end int64) *Iter {
	return &Iter{src: src, pos: start, end: end}
}

// Next reads the next sibling element's header and advances past its
// payload. It returns io.EOF once pos reaches end.
func (it *Iter) Next() (Element, error) {
	if it.pos >= it.end {
		return Element{}, io.EOF
	}
	br := bufio.NewReader(io.NewSectionReader(it.src, it.pos, it.end-it.pos))
	id, idw, err := ReadID(br)
	if err != nil {
		return Element{}, err
	}
	size, szw, unknown, err := ReadSize(br)
	if err != nil {
		return Element{}, err
	}
	headerLen := int64(idw + szw)
	payloadOff := it.pos + headerLen
	el := Element{
		ID:         id,
		Size:       size,
		Unknown:    unknown,
		src:        it.src,
		payloadOff: payloadOff,
		headerLen:  headerLen,
	}
	if unknown {
		// An unknown-size element (only ever the top-level Segment in
		// practice) extends to the end of this iteration window.
		el.Size = uint64(it.end - payloadOff)
		it.pos = it.end
	} else {
		it.pos = payloadOff + int64(size)
	}
	return el, nil
}

// ReadSegmentHeader reads the top-level Segment element of src, skipping
// the EBML header (and any Void) that precedes it -- the entry point for
// probing a source file or a promoted segment.
func ReadSegmentHeader(src Source, srcLen int64) (Element, error) {
	it := NewIter(src, 0, srcLen)
	for {
		el, err := it.Next()
		if err == io.EOF {
			return Element{}, fmt.Errorf("ebml: no Segment element found")
		}
		if err != nil {
			return Element{}, err
		}
		if el.ID == IDSegment {
			return el, nil
		}
		if el.ID != IDEBML && el.ID != IDVoid {
			return Element{}, fmt.Errorf("ebml: expected Segment, got %s", el.ID)
		}
	}
}

// FirstChildIs reports whether seg's first child element has id want,
// without materializing anything past its header -- used to validate the
// SeekHead-first layout extract_parts depends on.
func FirstChildIs(seg Element, want ID) (bool, error) {
	child, err := seg.Children().Next()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return child.ID == want, nil
}
