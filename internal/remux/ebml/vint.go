package ebml

import (
	"bufio"
	"fmt"
	"math/bits"
)

// widthOf returns the number of bytes needed to hold v in minimal
// big-endian form. Every ID constant in ids.go already carries its VINT
// marker bit in its most significant used byte, so this also recovers the
// element's on-the-wire byte width.
func widthOf(v uint32) int {
	if v == 0 {
		return 1
	}
	return (bits.Len32(v) + 7) / 8
}

// EncodeID writes id's minimal big-endian byte form.
func EncodeID(id ID) []byte {
	w := widthOf(uint32(id))
	buf := make([]byte, w)
	v := uint32(id)
	for i := w - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// sizeMax returns the largest value a w-byte VINT size can hold (the
// all-data-bits-1 pattern is reserved to mean "unknown size").
func sizeMax(w int) uint64 {
	return (uint64(1) << uint(7*w)) - 2
}

// vintWidth picks the smallest width able to hold n.
func vintWidth(n uint64) int {
	w := 1
	for n > sizeMax(w) {
		w++
		if w > 8 {
			break
		}
	}
	return w
}

// encodeVint writes n into width bytes with the marker bit set in the
// leading byte, the standard EBML variable-length-integer form.
func encodeVint(n uint64, width int) []byte {
	buf := make([]byte, width)
	v := n
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] |= 1 << uint(8-width)
	return buf
}

// EncodeSize writes n as a minimal-width EBML element size VINT.
func EncodeSize(n uint64) []byte {
	return encodeVint(n, vintWidth(n))
}

// EncodeSizeWidth writes n as an EBML element size VINT using exactly
// width bytes (used when the caller has already budgeted the header size,
// e.g. the fixed-width Void size headers).
func EncodeSizeWidth(n uint64, width int) []byte {
	return encodeVint(n, width)
}

// EncodeUnknownSize writes the "size unknown" sentinel (all data bits 1)
// in width bytes, used for a Segment whose final size isn't known yet.
func EncodeUnknownSize(width int) []byte {
	buf := make([]byte, width)
	for i := range buf {
		buf[i] = 0xFF
	}
	buf[0] = byte(0xFF >> uint(width-1))
	buf[0] |= 1 << uint(8-width)
	return buf
}

// ReadID reads an element id from r, marker bit included in the result
// (matching the ID constants in ids.go).
func ReadID(r *bufio.Reader) (ID, int, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	w := vintByteWidth(first)
	if w == 0 {
		return 0, 0, fmt.Errorf("ebml: invalid id leading byte 0x%02x", first)
	}
	v := uint32(first)
	for i := 1; i < w; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		v = v<<8 | uint32(b)
	}
	return ID(v), w, nil
}

// ReadSize reads an element size VINT, stripping the marker bit. unknown
// is true if the data bits are all 1 (unknown/streaming size).
func ReadSize(r *bufio.Reader) (size uint64, width int, unknown bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, false, err
	}
	w := vintByteWidth(first)
	if w == 0 {
		return 0, 0, false, fmt.Errorf("ebml: invalid size leading byte 0x%02x", first)
	}
	dataMask := byte(0xFF >> uint(w))
	allOnes := first&dataMask == dataMask
	v := uint64(first & dataMask)
	for i := 1; i < w; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, false, err
		}
		if b != 0xFF {
			allOnes = false
		}
		v = v<<8 | uint64(b)
	}
	return v, w, allOnes, nil
}

// vintByteWidth returns the VINT width implied by a leading byte's marker
// bit position, or 0 if the byte has no marker bit set (invalid VINT).
func vintByteWidth(first byte) int {
	for w := 1; w <= 8; w++ {
		if first&(0x80>>uint(w-1)) != 0 {
			return w
		}
	}
	return 0
}
