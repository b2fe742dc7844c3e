package ebml

import (
	"encoding/binary"
	"math"
	"time"
)

// Encode renders a Node tree to its EBML byte form, depth first, exactly
// as original_source's encode_elements/encode_container do: each node's
// payload is built first so its size is known before the size header is
// written.
func Encode(n Node) []byte {
	if n.kind == kindBinary && n.ID == 0 && n.uintVal == rawMarker {
		return append([]byte(nil), n.binVal...)
	}
	payload := payloadBytes(n)
	return wrap(n.ID, payload)
}

// EncodeAll concatenates the encoding of several sibling nodes, the shape
// encode_container takes for a list of top-level elements.
func EncodeAll(nodes ...Node) []byte {
	var out []byte
	for _, n := range nodes {
		out = append(out, Encode(n)...)
	}
	return out
}

func wrap(id ID, payload []byte) []byte {
	out := append([]byte(nil), EncodeID(id)...)
	out = append(out, EncodeSize(uint64(len(payload)))...)
	return append(out, payload...)
}

func payloadBytes(n Node) []byte {
	switch n.kind {
	case kindUint:
		return encodeUint(n.uintVal)
	case kindInt:
		return encodeInt(n.intVal)
	case kindFloat:
		return encodeFloat(n.floatVal)
	case kindString, kindBinary:
		if n.kind == kindString {
			return []byte(n.strVal)
		}
		return n.binVal
	case kindDate:
		return encodeDate(n.dateVal)
	case kindContainer:
		return EncodeAll(n.children...)
	}
	return nil
}

// encodeUint trims leading zero bytes, the minimal unsigned big-endian
// form EBML expects (a zero value encodes as a single zero byte).
func encodeUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

func encodeInt(v int64) []byte {
	if v >= 0 {
		return encodeUint(uint64(v))
	}
	// Minimal two's-complement form: shrink to the fewest bytes that still
	// sign-extend correctly.
	for w := 1; w <= 8; w++ {
		shift := uint(64 - 8*w)
		if v>>shift == -1 || (w == 8) {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v))
			return buf[8-w:]
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

func encodeFloat(v float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return buf[:]
}

// encodeDate mirrors ebmltools.encode_date: nanoseconds since
// 2001-01-01T00:00:00Z, always an 8-byte signed integer.
func encodeDate(t time.Time) []byte {
	delta := t.UTC().Sub(dateEpoch)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(delta.Nanoseconds()))
	return buf[:]
}

// CreateEBMLHeader builds the EBML header element (DocType "matroska",
// DocTypeVersion and DocTypeReadVersion 2, EBML versions 1), matching
// create_ebml_header.
func CreateEBMLHeader() []byte {
	return Encode(Container(IDEBML,
		Uint(IDEBMLVersion, 1),
		Uint(IDEBMLReadVersion, 1),
		Uint(IDEBMLMaxIDLength, 4),
		Uint(IDEBMLMaxSizeLength, 8),
		Str(IDDocType, "matroska"),
		Uint(IDDocTypeVersion, 2),
		Uint(IDDocTypeReadVersion, 2),
	))
}

// CreateVoid returns a Void element occupying exactly n bytes on the
// wire (id + size header + payload == n), matching create_void's
// boundary handling including its two special cases (129 and 16131
// bytes), which are filled with two smaller Void elements.
func CreateVoid(n int) []byte {
	switch n {
	case 129:
		return append(CreateVoid(100), CreateVoid(29)...)
	case 16131:
		return append(CreateVoid(10000), CreateVoid(6131)...)
	}
	offset := 2
	if n >= 130 {
		offset = 3
	}
	if n >= 16132 {
		offset = 4
	}
	if n >= 2031621 {
		offset = 5
	}
	payloadLen := n - offset
	headerWidth := offset - 1
	out := append([]byte(nil), byte(IDVoid))
	out = append(out, EncodeSizeWidth(uint64(payloadLen), headerWidth)...)
	return append(out, make([]byte, payloadLen)...)
}
