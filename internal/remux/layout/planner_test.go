package layout

import (
	"bytes"
	"io"
	"testing"

	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
)

// cueClusterPositions decodes p.Header's Cues element and returns each
// CuePoint's CueClusterPosition, in order, for asserting exact offsets.
func cueClusterPositions(t *testing.T, header []byte) []uint64 {
	t.Helper()
	seg, err := ebml.ReadSegmentHeader(bytes.NewReader(header), int64(len(header)))
	if err != nil {
		t.Fatalf("ReadSegmentHeader: %v", err)
	}
	it := seg.Children()
	var positions []uint64
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("iterating segment children: %v", err)
		}
		if el.ID != ebml.IDCues {
			continue
		}
		cuesIt := el.Children()
		for {
			cp, err := cuesIt.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("iterating cue points: %v", err)
			}
			tpIt := cp.Children()
			for {
				child, err := tpIt.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("iterating cue point children: %v", err)
				}
				if child.ID != ebml.IDCueTrackPositions {
					continue
				}
				posIt := child.Children()
				for {
					pel, err := posIt.Next()
					if err == io.EOF {
						break
					}
					if err != nil {
						t.Fatalf("iterating cue track positions: %v", err)
					}
					if pel.ID == ebml.IDCueClusterPos {
						v, err := pel.Uint()
						if err != nil {
							t.Fatalf("decoding CueClusterPosition: %v", err)
						}
						positions = append(positions, v)
					}
				}
			}
		}
	}
	return positions
}

func TestPlanBasicLayout(t *testing.T) {
	tracks := []byte{0xAE, 0x82, 0x01, 0x02} // fake TrackEntry-shaped bytes, content irrelevant here
	cues := []CuePoint{
		{TimeNS: 0, SourcePos: 500_000},
		{TimeNS: 5_000_000_000, SourcePos: 1_500_000},
		{TimeNS: 10_000_000_000, SourcePos: 2_500_000},
	}
	const sourceSegmentSize = 3_000_000
	p, err := Plan(1_000_000, 10_000_000_000, tracks, cues, sourceSegmentSize, 10)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	fixedPrefix := len(ebml.CreateEBMLHeader()) + len(ebml.EncodeID(ebml.IDSegment)) + len(ebml.EncodeSize(p.SegmentPayloadSize))
	if len(p.Header) != fixedPrefix+CueOffset {
		t.Fatalf("header length = %d, want %d", len(p.Header), fixedPrefix+CueOffset)
	}
	if len(p.ClusterBudgets) != len(cues) {
		t.Fatalf("budgets = %d, want %d", len(p.ClusterBudgets), len(cues))
	}
	for _, b := range p.ClusterBudgets {
		if b <= 0 {
			t.Fatalf("budget must be positive, got %d", b)
		}
	}
	if p.SegmentPayloadSize != sourceSegmentSize+2*CueOffset {
		t.Fatalf("segment payload size mismatch: %d vs %d", p.SegmentPayloadSize, uint64(sourceSegmentSize)+2*CueOffset)
	}

	want := []uint64{
		cues[0].SourcePos + CueOffset,
		cues[1].SourcePos + CueOffset,
		cues[2].SourcePos + CueOffset,
	}
	got := cueClusterPositions(t, p.Header)
	if len(got) != len(want) {
		t.Fatalf("cue cluster positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cue cluster position %d = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestPlanSpecExampleLayout checks the exact numbers from the cluster
// layout example: cues at source offsets 1000/5000/9000 within a
// 10000-byte source segment must land at 51000/55000/59000 in the
// rebuilt file, with a 110000-byte declared Segment payload.
func TestPlanSpecExampleLayout(t *testing.T) {
	tracks := []byte{0xAE, 0x82, 0x01, 0x02}
	cues := []CuePoint{
		{TimeNS: 0, SourcePos: 1000},
		{TimeNS: 2000, SourcePos: 5000},
		{TimeNS: 5000, SourcePos: 9000},
	}
	p, err := Plan(1, 5000, tracks, cues, 10000, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p.SegmentPayloadSize != 110000 {
		t.Fatalf("SegmentPayloadSize = %d, want 110000", p.SegmentPayloadSize)
	}
	want := []uint64{51000, 55000, 59000}
	got := cueClusterPositions(t, p.Header)
	if len(got) != len(want) {
		t.Fatalf("cue cluster positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cue cluster position %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPlanRejectsNonIncreasingCues(t *testing.T) {
	cues := []CuePoint{
		{TimeNS: 0, SourcePos: 0},
		{TimeNS: 1000, SourcePos: 500},
		{TimeNS: 900, SourcePos: 600},
	}
	if _, err := Plan(1_000_000, 2000, nil, cues, 1000, 0); err == nil {
		t.Fatalf("expected error for non-increasing cue times")
	}
}

func TestPlanRejectsEmptyCues(t *testing.T) {
	if _, err := Plan(1_000_000, 1000, nil, nil, 1000, 0); err == nil {
		t.Fatalf("expected error for empty cue list")
	}
}
