package layout

import "github.com/tidalstreamer/mkvremux/internal/remux/ebml"

// StreamingPlan is the layout for a source whose duration isn't known
// (or isn't trusted) up front: the rebuilt file's Segment size is left
// unknown (the EBML "all data bits 1" sentinel) and grows by simply
// appending whatever the encoder's native segmenter produces, with no
// SeekHead, Cues, or per-cluster Void padding -- mirroring
// streamingencoder.py's simplified _create_segment_header/build_container,
// which drops all of the seekability machinery the bounded-duration path
// needs.
type StreamingPlan struct {
	// Header is EBML header + Segment (unknown size) + Info + Tracks: a
	// fixed prefix that can be written the moment Tracks is known, before
	// a single Cluster has been produced.
	Header []byte
}

// PlanStreaming builds a StreamingPlan. durationNS may be 0 if the
// source's duration isn't known; Info's Duration element is then omitted,
// matching the Python original's handling of a live/unknown-length
// source.
func PlanStreaming(scale, durationNS uint64, tracks []byte) *StreamingPlan {
	infoChildren := []ebml.Node{
		ebml.Uint(ebml.IDTimecodeScale, scale),
	}
	if durationNS > 0 {
		infoChildren = append(infoChildren, ebml.Float(ebml.IDDuration, float64(durationNS)/float64(scale)))
	}
	infoChildren = append(infoChildren,
		ebml.Binary(ebml.IDSegmentUID, segmentUID),
		ebml.Str(ebml.IDMuxingApp, muxingApp),
		ebml.Str(ebml.IDWritingApp, muxingApp),
	)
	info := ebml.Encode(ebml.Container(ebml.IDInfo, infoChildren...))

	header := ebml.CreateEBMLHeader()
	header = append(header, ebml.EncodeID(ebml.IDSegment)...)
	header = append(header, ebml.EncodeUnknownSize(8)...)
	header = append(header, info...)
	header = append(header, tracks...)

	return &StreamingPlan{Header: header}
}
