// Package producer drives the external encoder process, sweeps its
// output directory, and turns promoted segment files into the exact byte
// ranges a layout.Plan allotted them. Grounded in original_source's
// encoder.py (check_for_files_to_move, wrap_segment, start_encoding,
// stop_encoding) and the teacher's transcoder/stream.go process
// supervision style (stdout/stderr/exit monitor goroutines around an
// exec.Cmd).
package producer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
)

const outputFileFormat = "output-%05d.mkv"

var outputFileRE = regexp.MustCompile(`^output-(\d+)\.mkv$`)

// SegmentProducer spawns ffmpeg against a source URL, asking it to cut
// the transcoded output into segments at specific timestamps, and
// promotes each finished segment file from a scratch directory into a
// stable one so its bytes can be read without racing the encoder.
type SegmentProducer struct {
	streamID     string
	ffmpegPath   string
	sourceURL    string
	scratchDir   string
	outputDir    string
	segmentTimes []float64 // seconds, one fewer than the number of segments

	// OnFirstSegmentPromoted, if set, is invoked exactly once, the first
	// time any segment is promoted -- the hook the Encoder façade uses to
	// probe Tracks and unblock check_if_ready_to_stream.
	OnFirstSegmentPromoted func(path string) error

	// OnFailed, if set, is invoked exactly once the first time the
	// producer fails, so an Encoder still waiting on its first segment
	// (and hence never ready) can unblock its callers with an error
	// instead of hanging until their context expires.
	OnFailed func(error)

	mu       sync.Mutex
	cond     *sync.Cond
	promoted map[int]string
	failed   error
	stopped  bool
	sweeping bool

	cmd    *exec.Cmd
	cancel context.CancelFunc
	poke   chan struct{}
}

// New creates a producer. baseDir is this stream's private directory;
// segments are promoted directly into it, ffmpeg writes into
// baseDir/encoding until promoted.
func New(streamID, ffmpegPath, sourceURL, baseDir string, segmentTimes []float64) *SegmentProducer {
	p := &SegmentProducer{
		streamID:     streamID,
		ffmpegPath:   ffmpegPath,
		sourceURL:    sourceURL,
		scratchDir:   filepath.Join(baseDir, "encoding"),
		outputDir:    baseDir,
		segmentTimes: segmentTimes,
		promoted:     make(map[int]string),
		poke:         make(chan struct{}, 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches ffmpeg. startSegmentID > 0 resumes mid-stream at the cue
// time just before it (the "-segment_start_number N-1 -initial_offset T
// -ss T" trio from original_source); endSegmentID, if non-nil, bounds the
// encode with "-to T".
func (p *SegmentProducer) Start(ctx context.Context, startSegmentID int, endSegmentID *int) error {
	if err := os.MkdirAll(p.scratchDir, 0o755); err != nil {
		return fmt.Errorf("producer: creating scratch dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	args := []string{
		"-i", p.sourceURL,
		"-map", "0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "384k",
		"-sn",
		"-f", "segment",
		"-segment_format", "mkv",
		"-segment_times", joinTimes(p.segmentTimes),
		"-reset_timestamps", "1",
	}
	if startSegmentID > 0 {
		resumeAt := p.segmentTimes[startSegmentID-1]
		args = append(args,
			"-segment_start_number", strconv.Itoa(startSegmentID-1),
			"-initial_offset", strconv.FormatFloat(resumeAt, 'f', 3, 64),
			"-ss", strconv.FormatFloat(resumeAt, 'f', 3, 64),
		)
	}
	if endSegmentID != nil && *endSegmentID < len(p.segmentTimes) {
		args = append(args, "-to", strconv.FormatFloat(p.segmentTimes[*endSegmentID], 'f', 3, 64))
	}
	args = append(args, filepath.Join(p.scratchDir, outputFileFormat))

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("producer: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("producer: starting ffmpeg: %w", err)
	}
	p.cmd = cmd

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(p.scratchDir); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { p.monitorStderr(stderr); return nil })
	g.Go(func() error { return p.sweepLoop(gctx, watcher, startSegmentID, endSegmentID) })
	g.Go(func() error { p.monitorExit(cmd); return nil })

	go func() {
		if err := g.Wait(); err != nil {
			p.fail(err)
		}
	}()
	return nil
}

func joinTimes(times []float64) string {
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = strconv.FormatFloat(t, 'f', 3, 64)
	}
	return strings.Join(parts, ",")
}

func (p *SegmentProducer) monitorStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			log.Printf("%s: ffmpeg: %s", p.streamID, strings.TrimSpace(string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}

func (p *SegmentProducer) monitorExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	p.mu.Lock()
	alreadyStopped := p.stopped
	p.mu.Unlock()
	if err != nil && !alreadyStopped {
		p.fail(fmt.Errorf("producer: ffmpeg exited: %w", err))
	}
}

// sweepLoop ticks once a second, matching the ticker cadence
// original_source's LoopingCall used; a write on p.poke (fed by the
// fsnotify watch, when available) can wake it early, but a sweep already
// in flight is never run twice concurrently.
func (p *SegmentProducer) sweepLoop(ctx context.Context, watcher *fsnotify.Watcher, startSegmentID int, endSegmentID *int) error {
	if watcher != nil {
		defer watcher.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					select {
					case p.poke <- struct{}{}:
					default:
					}
				case <-watcher.Errors:
				}
			}
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.sweepOnce(startSegmentID, endSegmentID, true)
			return nil
		case <-ticker.C:
			p.sweepOnce(startSegmentID, endSegmentID, false)
		case <-p.poke:
			p.sweepOnce(startSegmentID, endSegmentID, false)
		}
	}
}

// sweepOnce lists the scratch directory, deletes stale segments left over
// from an earlier partial run, and promotes every finished segment except
// the most recent one (ffmpeg may still be appending to it) unless
// moveLast is set and it is the expected final segment.
func (p *SegmentProducer) sweepOnce(startSegmentID int, endSegmentID *int, moveLast bool) {
	p.mu.Lock()
	if p.sweeping {
		p.mu.Unlock()
		return
	}
	p.sweeping = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.sweeping = false
		p.mu.Unlock()
	}()

	entries, err := os.ReadDir(p.scratchDir)
	if err != nil {
		return
	}
	type found struct {
		id   int
		name string
	}
	var files []found
	for _, e := range entries {
		m := outputFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		files = append(files, found{id: id, name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })

	for i, f := range files {
		isLast := i == len(files)-1
		if f.id < startSegmentID {
			os.Remove(filepath.Join(p.scratchDir, f.name))
			continue
		}
		if isLast {
			final := endSegmentID != nil && f.id == *endSegmentID
			if !moveLast || !final {
				continue
			}
		}
		p.promote(f.id, f.name)
	}
}

func (p *SegmentProducer) promote(id int, name string) {
	src := filepath.Join(p.scratchDir, name)
	dst := filepath.Join(p.outputDir, name)
	if err := os.Rename(src, dst); err != nil {
		p.fail(fmt.Errorf("producer: promoting segment %d: %w", id, err))
		return
	}

	p.mu.Lock()
	if _, already := p.promoted[id]; already {
		p.mu.Unlock()
		return
	}
	p.promoted[id] = dst
	first := len(p.promoted) == 1
	hook := p.OnFirstSegmentPromoted
	p.cond.Broadcast()
	p.mu.Unlock()

	if first && hook != nil {
		if err := hook(dst); err != nil {
			p.fail(fmt.Errorf("producer: first-segment hook: %w", err))
		}
	}
}

func (p *SegmentProducer) fail(err error) {
	p.mu.Lock()
	first := p.failed == nil
	if first {
		p.failed = err
		log.Printf("%s: producer failed: %v", p.streamID, err)
	}
	hook := p.OnFailed
	p.cond.Broadcast()
	p.mu.Unlock()

	if first && hook != nil {
		hook(err)
	}
}

// WaitForSegment blocks until segment id has been promoted, the producer
// has failed, or ctx is cancelled.
func (p *SegmentProducer) WaitForSegment(ctx context.Context, id int) (string, error) {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.failed == nil && !p.stopped {
			if _, ok := p.promoted[id]; ok {
				break
			}
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return "", p.failed
	}
	if path, ok := p.promoted[id]; ok {
		return path, nil
	}
	return "", fmt.Errorf("producer: stopped before segment %d was produced", id)
}

// Stop terminates the encoder process by cancelling the context it was
// started with, which also ends the ffmpeg process in either case. If
// successful is false the process is additionally killed directly,
// matching stop_encoding(successful=False)'s behavior.
func (p *SegmentProducer) Stop(successful bool) {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if !successful && p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// ExtractClusterBytes reads a promoted segment file and returns the
// concatenation of its Cluster elements' raw (header-included) bytes,
// with no padding.
func ExtractClusterBytes(path string) ([]byte, error) {
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

	var clusters []byte
	it := seg.Children()
	for {
		el, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if el.ID != ebml.IDCluster {
			continue
		}
		raw, err := el.RawBytes()
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, raw...)
	}
	return clusters, nil
}

// WrapSegment extracts a promoted segment's Cluster bytes and pads the
// result with a trailing Void to exactly budget bytes -- original_source's
// wrap_segment. Returns an error if the real encoded bytes exceed the
// planned budget, since that indicates the layout plan's size estimate
// was wrong rather than something safely paddable.
func WrapSegment(path string, budget int64) ([]byte, error) {
	clusters, err := ExtractClusterBytes(path)
	if err != nil {
		return nil, err
	}
	if int64(len(clusters)) > budget {
		return nil, fmt.Errorf("producer: segment %s (%d bytes) exceeds its %d-byte budget", path, len(clusters), budget)
	}
	return append(clusters, ebml.CreateVoid(int(budget-int64(len(clusters))))...), nil
}
