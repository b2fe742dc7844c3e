package ebml

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeSizeRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 125, 126, 16383, 16384, 2097151, 2097152, 1 << 40}
	for _, n := range cases {
		buf := EncodeSize(n)
		got, w, unknown, err := ReadSize(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if unknown {
			t.Fatalf("n=%d: unexpectedly decoded as unknown size", n)
		}
		if got != n {
			t.Fatalf("n=%d: got %d", n, got)
		}
		if w != len(buf) {
			t.Fatalf("n=%d: width mismatch %d vs %d", n, w, len(buf))
		}
	}
}

func TestEncodeDecodeID(t *testing.T) {
	for _, id := range []ID{IDEBML, IDSegment, IDSeekHead, IDInfo, IDTracks, IDTrackEntry, IDCues, IDCuePoint, IDVoid} {
		buf := EncodeID(id)
		got, w, err := ReadID(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("id=%s: %v", id, err)
		}
		if got != id {
			t.Fatalf("id=%s: got %s", id, got)
		}
		if w != len(buf) {
			t.Fatalf("id=%s: width mismatch", id)
		}
	}
}

func TestCreateVoidExactSize(t *testing.T) {
	for _, n := range []int{2, 10, 129, 130, 16131, 16132, 2031621, 100000} {
		got := CreateVoid(n)
		if len(got) != n {
			t.Fatalf("CreateVoid(%d) produced %d bytes", n, len(got))
		}
	}
}

func TestCreateVoidSpecialCasesSplit(t *testing.T) {
	v129 := CreateVoid(129)
	if len(v129) != 129 {
		t.Fatalf("want 129 bytes, got %d", len(v129))
	}
	if !bytes.Equal(v129, append(CreateVoid(100), CreateVoid(29)...)) {
		t.Fatalf("CreateVoid(129) is not CreateVoid(100) followed by CreateVoid(29)")
	}
	v16131 := CreateVoid(16131)
	if len(v16131) != 16131 {
		t.Fatalf("want 16131 bytes, got %d", len(v16131))
	}
	if !bytes.Equal(v16131, append(CreateVoid(10000), CreateVoid(6131)...)) {
		t.Fatalf("CreateVoid(16131) is not CreateVoid(10000) followed by CreateVoid(6131)")
	}
}

func TestEncodeUintMinimalWidth(t *testing.T) {
	if got := encodeUint(0); len(got) != 1 || got[0] != 0 {
		t.Fatalf("encodeUint(0) = %v", got)
	}
	if got := encodeUint(255); len(got) != 1 {
		t.Fatalf("encodeUint(255) should be 1 byte, got %v", got)
	}
	if got := encodeUint(256); len(got) != 2 {
		t.Fatalf("encodeUint(256) should be 2 bytes, got %v", got)
	}
}

func TestEncodeContainerRoundTripStructure(t *testing.T) {
	tree := Container(IDInfo,
		Uint(IDTimecodeScale, 1000000),
		Float(IDDuration, 12345.6),
	)
	buf := Encode(tree)

	src := &byteSrc{buf}
	full := ReadSegmentHeaderHelperForTest(t, src, int64(len(buf)))
	if full.ID != IDInfo {
		t.Fatalf("expected Info got %s", full.ID)
	}
	child, err := full.Children().Next()
	if err != nil {
		t.Fatalf("first child: %v", err)
	}
	if child.ID != IDTimecodeScale {
		t.Fatalf("expected TimecodeScale got %s", child.ID)
	}
	v, err := child.Uint()
	if err != nil || v != 1000000 {
		t.Fatalf("timecodescale v=%d err=%v", v, err)
	}
}

// byteSrc adapts a byte slice to io.ReaderAt for tests.
type byteSrc struct{ b []byte }

func (s *byteSrc) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.b)) {
		return 0, io.EOF
	}
	n := copy(p, s.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadSegmentHeaderHelperForTest reads the single top-level element
// without requiring it to be a Segment, for exercising container decoding
// against a non-Segment root in tests.
func ReadSegmentHeaderHelperForTest(t *testing.T, src Source, n int64) Element {
	t.Helper()
	it := NewIter(src, 0, n)
	el, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return el
}
