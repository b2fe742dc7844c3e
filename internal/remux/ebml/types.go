package ebml

import "time"

// dateEpoch is the Matroska DateUTC reference point: 2001-01-01T00:00:00Z.
var dateEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Node is a single element of an encode-side tree. Build a tree with the
// Uint/Int/Float/Str/Date/Bin/Container constructors below and hand it to
// Encode.
type Node struct {
	ID       ID
	kind     nodeKind
	uintVal  uint64
	intVal   int64
	floatVal float64
	strVal   string
	dateVal  time.Time
	binVal   []byte
	children []Node
}

type nodeKind int

const (
	kindUint nodeKind = iota
	kindInt
	kindFloat
	kindString
	kindDate
	kindBinary
	kindContainer
)

func Uint(id ID, v uint64) Node     { return Node{ID: id, kind: kindUint, uintVal: v} }
func Int(id ID, v int64) Node       { return Node{ID: id, kind: kindInt, intVal: v} }
func Float(id ID, v float64) Node   { return Node{ID: id, kind: kindFloat, floatVal: v} }
func Str(id ID, v string) Node      { return Node{ID: id, kind: kindString, strVal: v} }
func Date(id ID, v time.Time) Node  { return Node{ID: id, kind: kindDate, dateVal: v} }
func Binary(id ID, v []byte) Node   { return Node{ID: id, kind: kindBinary, binVal: v} }
func Container(id ID, children ...Node) Node {
	return Node{ID: id, kind: kindContainer, children: children}
}

// Raw wraps an already-encoded element (id+size+payload) so it can be
// spliced verbatim into a container's children, e.g. a Tracks element
// copied unmodified from a probe.
func Raw(bytes []byte) Node {
	return Node{kind: kindBinary, binVal: bytes, ID: 0, uintVal: rawMarker}
}

// rawMarker distinguishes a Raw node (emit binVal as-is, no header) from a
// Binary node (emit id+size header then binVal). ID 0 is never a valid
// element id, so uintVal doubles as the discriminant only on that path.
const rawMarker = 1
