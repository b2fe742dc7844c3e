// Package ebml implements the subset of EBML/Matroska element encoding and
// decoding this proxy needs: variable-length integers, typed element
// encoding, void padding, and lazy iteration over a container's children.
//
// It does not aim to be a general-purpose EBML library — only the element
// types the rebuilt Matroska header (EBML header, Segment, SeekHead, Info,
// Tracks, Cues, Cluster, Void) and the source probe (Cues, Info, Tracks)
// require.
package ebml

import "fmt"

// ID identifies an EBML element. The value already carries its own VINT
// marker bit, exactly as the element appears on the wire, so the encoded
// byte width is recoverable from the value itself (see widthOf).
type ID uint32

const (
	IDEBML               ID = 0x1A45DFA3
	IDEBMLVersion         ID = 0x4286
	IDEBMLReadVersion     ID = 0x42F7
	IDEBMLMaxIDLength     ID = 0x42F2
	IDEBMLMaxSizeLength   ID = 0x42F3
	IDDocType             ID = 0x4282
	IDDocTypeVersion      ID = 0x4287
	IDDocTypeReadVersion  ID = 0x4285

	IDSegment ID = 0x18538067

	IDSeekHead     ID = 0x114D9B74
	IDSeek         ID = 0x4DBB
	IDSeekID       ID = 0x53AB
	IDSeekPosition ID = 0x53AC

	IDInfo          ID = 0x1549A966
	IDTimecodeScale ID = 0x2AD7B1
	IDDuration      ID = 0x4489
	IDDateUTC       ID = 0x4461
	IDMuxingApp     ID = 0x4D80
	IDWritingApp    ID = 0x5741
	IDSegmentUID    ID = 0x73A4

	IDTracks     ID = 0x1654AE6B
	IDTrackEntry ID = 0xAE

	IDCues              ID = 0x1C53BB6B
	IDCuePoint          ID = 0xBB
	IDCueTime           ID = 0xB3
	IDCueTrackPositions ID = 0xB7
	IDCueTrack          ID = 0xF7
	IDCueClusterPos     ID = 0xF1

	IDCluster ID = 0x1F43B675
	IDVoid    ID = 0xEC
)

// String returns a short label for logging; unknown IDs print as hex.
func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}
	return fmt.Sprintf("0x%X", uint32(id))
}

var idNames = map[ID]string{
	IDEBML:              "EBML",
	IDEBMLVersion:        "EBMLVersion",
	IDEBMLReadVersion:    "EBMLReadVersion",
	IDEBMLMaxIDLength:    "EBMLMaxIDLength",
	IDEBMLMaxSizeLength:  "EBMLMaxSizeLength",
	IDDocType:            "DocType",
	IDDocTypeVersion:     "DocTypeVersion",
	IDDocTypeReadVersion: "DocTypeReadVersion",
	IDSegment:            "Segment",
	IDSeekHead:           "SeekHead",
	IDSeek:               "Seek",
	IDSeekID:             "SeekID",
	IDSeekPosition:       "SeekPosition",
	IDInfo:               "Info",
	IDTimecodeScale:      "TimecodeScale",
	IDDuration:           "Duration",
	IDDateUTC:            "DateUTC",
	IDMuxingApp:          "MuxingApp",
	IDWritingApp:         "WritingApp",
	IDSegmentUID:         "SegmentUID",
	IDTracks:             "Tracks",
	IDTrackEntry:         "TrackEntry",
	IDCues:               "Cues",
	IDCuePoint:           "CuePoint",
	IDCueTime:            "CueTime",
	IDCueTrackPositions:  "CueTrackPositions",
	IDCueTrack:           "CueTrack",
	IDCueClusterPos:      "CueClusterPosition",
	IDCluster:            "Cluster",
	IDVoid:               "Void",
}
