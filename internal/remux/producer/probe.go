package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
	"github.com/tidalstreamer/mkvremux/internal/remux/layout"
)

// ffprobeFormat mirrors the subset of ffprobe's JSON -show_format output
// this proxy needs, the same narrow-decode-struct idiom the teacher uses
// in transcoder/manager.go's ffprobe().
type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration runs ffprobe against url and returns its duration in
// nanoseconds.
func ProbeDuration(ctx context.Context, ffprobePath, url string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("producer: ffprobe failed: %w", err)
	}

	var decoded ffprobeFormat
	if err := json.Unmarshal(out, &decoded); err != nil {
		return 0, fmt.Errorf("producer: decoding ffprobe output: %w", err)
	}
	seconds, err := strconv.ParseFloat(decoded.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("producer: parsing ffprobe duration %q: %w", decoded.Format.Duration, err)
	}
	return uint64(seconds * 1e9), nil
}

// HeaderParts is the result of scanning a source's top-level Segment
// children for the elements the layout planner needs.
type HeaderParts struct {
	TimecodeScale uint64
	DurationNS    uint64
	Cues          []layout.CuePoint
	SegmentSize   uint64
}

// ExtractHeaderParts validates that seg's first child is a SeekHead (the
// same fast-fail sanity check extract_parts performs: a source laid out
// any other way isn't worth the cost of scanning further) and then reads
// Info and Cues, stopping as soon as a Cluster is reached since nothing
// past that point is relevant here.
func ExtractHeaderParts(seg ebml.Element) (*HeaderParts, error) {
	it := seg.Children()

	first, err := it.Next()
	if err != nil {
		return nil, fmt.Errorf("producer: reading first segment child: %w", err)
	}
	if first.ID != ebml.IDSeekHead {
		return nil, ebml.ErrNotSeekHead
	}

	parts := &HeaderParts{SegmentSize: seg.Size}
	var haveInfo, haveCues bool
scan:
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el.ID {
		case ebml.IDInfo:
			if err := fillInfo(el, parts); err != nil {
				return nil, err
			}
			haveInfo = true
		case ebml.IDCues:
			cues, err := parseCues(el)
			if err != nil {
				return nil, err
			}
			parts.Cues = cues
			haveCues = true
		case ebml.IDCluster:
			// Media starts here; Info/Cues must precede it in a
			// streamable file, so there is nothing further to look for.
			break scan
		}
		if haveInfo && haveCues {
			break
		}
	}
	if !haveInfo {
		return nil, fmt.Errorf("producer: source has no Info element before its first Cluster")
	}
	if !haveCues {
		return nil, fmt.Errorf("producer: source has no Cues element before its first Cluster")
	}
	// CueTime is stored in TimecodeScale units, not nanoseconds (the same
	// convention Matroska uses for block timecodes); scale it here, once
	// the source's actual TimecodeScale is known, so every other consumer
	// of HeaderParts.Cues can treat TimeNS as genuine nanoseconds.
	for i := range parts.Cues {
		parts.Cues[i].TimeNS *= parts.TimecodeScale
	}
	return parts, nil
}

func fillInfo(info ebml.Element, parts *HeaderParts) error {
	it := info.Children()
	var scale uint64 = 1000000
	var durationScaled float64
	haveDuration := false
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch el.ID {
		case ebml.IDTimecodeScale:
			v, err := el.Uint()
			if err != nil {
				return err
			}
			scale = v
		case ebml.IDDuration:
			v, err := el.Float()
			if err != nil {
				return err
			}
			durationScaled = v
			haveDuration = true
		}
	}
	parts.TimecodeScale = scale
	if haveDuration {
		parts.DurationNS = uint64(durationScaled * float64(scale))
	}
	return nil
}

func parseCues(cuesEl ebml.Element) ([]layout.CuePoint, error) {
	var cues []layout.CuePoint
	it := cuesEl.Children()
	for {
		point, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if point.ID != ebml.IDCuePoint {
			continue
		}
		cp, err := parseCuePoint(point)
		if err != nil {
			return nil, err
		}
		cues = append(cues, cp)
	}
	return cues, nil
}

func parseCuePoint(point ebml.Element) (layout.CuePoint, error) {
	var cp layout.CuePoint
	it := point.Children()
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cp, err
		}
		switch el.ID {
		case ebml.IDCueTime:
			v, err := el.Uint()
			if err != nil {
				return cp, err
			}
			cp.TimeNS = v
		case ebml.IDCueTrackPositions:
			pos, err := cueClusterPosition(el)
			if err != nil {
				return cp, err
			}
			cp.SourcePos = pos
		}
	}
	return cp, nil
}

func cueClusterPosition(tp ebml.Element) (uint64, error) {
	it := tp.Children()
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if el.ID == ebml.IDCueClusterPos {
			return el.Uint()
		}
	}
	return 0, fmt.Errorf("producer: CueTrackPositions missing CueClusterPosition")
}

// ProbeTracks opens a promoted segment file (itself a standalone,
// well-formed Matroska Segment produced by the encoder) and returns its
// Tracks element, header and payload included, ready to splice verbatim
// into the rebuilt file's own header -- the original's probe_tracks.
func ProbeTracks(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	seg, err := ebml.ReadSegmentHeader(f, info.Size())
	if err != nil {
		return nil, err
	}
	it := seg.Children()
	for {
		el, err := it.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("producer: %s has no Tracks element", path)
		}
		if err != nil {
			return nil, err
		}
		if el.ID == ebml.IDTracks {
			return el.RawBytes()
		}
		if el.ID == ebml.IDCluster {
			return nil, fmt.Errorf("producer: %s has no Tracks element before its first Cluster", path)
		}
	}
}
