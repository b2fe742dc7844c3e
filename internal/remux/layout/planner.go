// Package layout computes the byte-exact structure of a rebuilt Matroska
// file before any encoding happens: where SeekHead, Info, Tracks, Cues
// and each Cluster segment land, so the container's total size and every
// CueClusterPosition are known up front. Grounded in original_source's
// encoder.py (_create_segment_header, build_container) and its streaming
// counterpart in streamingencoder.py.
package layout

import (
	"fmt"
	"time"

	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
)

// CueOffset is the fixed reservation, in bytes, for the SeekHead/Info/
// Tracks/Cues/Void header region at the start of every planned Segment,
// matching original_source's CUE_OFFSET.
const CueOffset = 50000

// seekHeadReserve is the fixed byte budget for the SeekHead element; Info
// always starts at this offset within the Segment payload so SeekHead's
// own size doesn't need to be known before Tracks/Cues positions are
// computed (a classic EBML muxer trick: reserve, then pad).
const seekHeadReserve = 100

// segmentUID is the fixed 16-byte identifier every rebuilt file carries
// (spec: 0x31323334353637383930313233343536, the ASCII string
// "1234567890123456").
var segmentUID = []byte("1234567890123456")

const muxingApp = "The Tidal Streamer"

// CuePoint is one entry from the source's Cues element: a presentation
// time (genuine nanoseconds, already scaled by the source's TimecodeScale)
// and the byte offset (relative to the source Segment's payload) where
// the corresponding cluster starts.
type CuePoint struct {
	TimeNS   uint64
	SourcePos uint64
}

// BoundedPlan is the fully computed byte layout for a non-streaming
// (seekable, known-duration) rebuild, as returned by Plan.
type BoundedPlan struct {
	// Header is the complete byte sequence from the EBML header through
	// the trailing Void padding, ending exactly at the first planned
	// Cluster's start offset.
	Header []byte

	// SegmentPayloadSize is the Segment element's declared payload size:
	// the source Segment's size plus twice CueOffset.
	SegmentPayloadSize uint64

	// ClusterBudgets holds, for each planned output segment, the number
	// of bytes it is allotted in the final file. A producer's
	// wrap_segment step pads the real encoded bytes to exactly this many
	// bytes with a trailing Void; if the real bytes exceed the budget
	// that's a planning error, reported rather than silently truncated.
	ClusterBudgets []int64
}

// Plan computes a non-streaming layout. tracks is the complete, already
// encoded Tracks element (id+size+payload) copied verbatim from a probe
// of the first re-encoded segment. cues is the source file's Cue list in
// playback order; marginPct pads each cluster's byte budget (derived from
// the source's own cluster byte spans, since the copied video stream
// dominates segment size) to tolerate the transcoded audio track being
// somewhat larger than the source's.
func Plan(scale, durationNS uint64, tracks []byte, cues []CuePoint, sourceSegmentSize uint64, marginPct int) (*BoundedPlan, error) {
	if len(cues) == 0 {
		return nil, fmt.Errorf("layout: no cue points")
	}
	for i := 1; i < len(cues); i++ {
		if cues[i].TimeNS <= cues[i-1].TimeNS || cues[i].SourcePos <= cues[i-1].SourcePos {
			return nil, fmt.Errorf("layout: cue points are not strictly increasing at index %d", i)
		}
	}

	budgets := make([]int64, len(cues))
	for i := range cues {
		var span uint64
		if i+1 < len(cues) {
			span = cues[i+1].SourcePos - cues[i].SourcePos
		} else {
			if sourceSegmentSize <= cues[i].SourcePos {
				return nil, fmt.Errorf("layout: source segment size smaller than final cue position")
			}
			span = sourceSegmentSize - cues[i].SourcePos
		}
		budgets[i] = int64(span) + int64(span)*int64(marginPct)/100
	}

	// Cluster offsets mirror the source's own cue positions, shifted by
	// CueOffset (original_source's build_container: v += CUE_OFFSET), not
	// a cumulative sum of padded budgets -- the margin only pads each
	// cluster's byte budget, it never shifts where a cluster starts.
	positions := make([]uint64, len(cues))
	for i, c := range cues {
		positions[i] = c.SourcePos + CueOffset
	}

	info := buildInfo(scale, durationNS)

	seekHead := buildSeekHead(len(info), tracks)
	if len(seekHead) > seekHeadReserve {
		return nil, fmt.Errorf("layout: SeekHead (%d bytes) exceeds its %d-byte reservation", len(seekHead), seekHeadReserve)
	}
	seekHead = append(seekHead, ebml.CreateVoid(seekHeadReserve-len(seekHead))...)

	cuesEl := buildCues(cues, positions, scale)

	region := append([]byte(nil), seekHead...)
	region = append(region, info...)
	region = append(region, tracks...)
	region = append(region, cuesEl...)

	if len(region) > CueOffset {
		return nil, fmt.Errorf("layout: header region (%d bytes) overflows the %d-byte reservation", len(region), CueOffset)
	}
	region = append(region, ebml.CreateVoid(CueOffset-len(region))...)

	// The declared Segment payload always reserves CUE_OFFSET twice --
	// once for the header region at the front, once again because the
	// source's own sizing (which the cluster offsets are anchored to)
	// already budgeted CUE_OFFSET bytes past its last cluster -- matching
	// original_source's segment_size = file_info['Size'] + CUE_OFFSET*2.
	segPayload := sourceSegmentSize + 2*CueOffset

	header := ebml.CreateEBMLHeader()
	header = append(header, ebml.EncodeID(ebml.IDSegment)...)
	header = append(header, ebml.EncodeSize(segPayload)...)
	header = append(header, region...)

	return &BoundedPlan{Header: header, SegmentPayloadSize: segPayload, ClusterBudgets: budgets}, nil
}

func buildSeekHead(infoLen int, tracks []byte) []byte {
	// Info always starts right at the fixed 100-byte SeekHead reservation,
	// so Tracks' and Cues' positions are computable from infoLen and
	// tracks' length without building either first.
	tracksPos := uint64(seekHeadReserve + infoLen)
	cuesPos := tracksPos + uint64(len(tracks))

	return ebml.Encode(ebml.Container(ebml.IDSeekHead,
		ebml.Container(ebml.IDSeek,
			ebml.Binary(ebml.IDSeekID, ebml.EncodeID(ebml.IDTracks)),
			ebml.Uint(ebml.IDSeekPosition, tracksPos),
		),
		ebml.Container(ebml.IDSeek,
			ebml.Binary(ebml.IDSeekID, ebml.EncodeID(ebml.IDCues)),
			ebml.Uint(ebml.IDSeekPosition, cuesPos),
		),
	))
}

func buildInfo(scale, durationNS uint64) []byte {
	durationInScaleUnits := float64(durationNS) / float64(scale)
	return ebml.Encode(ebml.Container(ebml.IDInfo,
		ebml.Uint(ebml.IDTimecodeScale, scale),
		ebml.Float(ebml.IDDuration, durationInScaleUnits),
		ebml.Date(ebml.IDDateUTC, time.Now()),
		ebml.Binary(ebml.IDSegmentUID, segmentUID),
		ebml.Str(ebml.IDMuxingApp, muxingApp),
		ebml.Str(ebml.IDWritingApp, muxingApp),
	))
}

// buildCues re-encodes each cue's CueTime in the output Segment's own
// TimecodeScale units (the same scale as the source, here, since the
// rebuilt Info carries it unchanged) -- CuePoint.TimeNS is tracked in
// genuine nanoseconds everywhere else, but the wire format wants
// TimecodeScale ticks, exactly like a Block's timecode.
func buildCues(cues []CuePoint, positions []uint64, scale uint64) []byte {
	points := make([]ebml.Node, len(cues))
	for i, c := range cues {
		points[i] = ebml.Container(ebml.IDCuePoint,
			ebml.Uint(ebml.IDCueTime, c.TimeNS/scale),
			ebml.Container(ebml.IDCueTrackPositions,
				ebml.Uint(ebml.IDCueTrack, 1),
				ebml.Uint(ebml.IDCueClusterPos, positions[i]),
			),
		)
	}
	return ebml.Encode(ebml.Container(ebml.IDCues, points...))
}
