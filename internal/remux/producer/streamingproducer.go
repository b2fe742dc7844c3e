package producer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// StreamingProducer is the live/unbounded-duration counterpart to
// SegmentProducer: ffmpeg is given a fixed wall-clock segment_time
// instead of explicit cue-aligned cut points, finished segments are
// appended to the rebuilt file as-is (no wrap/pad step -- the output
// stream's own Cluster bytes are used verbatim), and the file the
// encoder is still writing is not promoted until the encoder moves on or
// exits, matching streamingencoder.py's build_container/
// check_for_files_to_move overrides.
type StreamingProducer struct {
	streamID   string
	ffmpegPath string
	sourceURL  string
	scratchDir string
	outputDir  string

	// OnSegmentReady is called once per promoted segment, in order, with
	// its promoted path; the streaming Encoder reads each file's Cluster
	// bytes and appends them live to the canonical container.
	OnSegmentReady func(index int, path string) error

	// OnDone is called exactly once, after the encoder process has exited:
	// following the final sweep on a clean exit, immediately (with no
	// sweep) when the producer failed -- the signal the
	// streaming Encoder uses to mark its container done, since a live
	// source only has a known total length once there is no more live
	// source left.
	OnDone func()

	// OnFailed, if set, is invoked exactly once the first time the
	// producer fails, so an Encoder still waiting on its first segment
	// can unblock its callers with an error rather than hanging.
	OnFailed func(error)

	mu       sync.Mutex
	cond     *sync.Cond
	promoted int // highest contiguous promoted index + 1
	failed   error
	stopped  bool
	sweeping bool

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func NewStreaming(streamID, ffmpegPath, sourceURL, baseDir string) *StreamingProducer {
	p := &StreamingProducer{
		streamID:   streamID,
		ffmpegPath: ffmpegPath,
		sourceURL:  sourceURL,
		scratchDir: filepath.Join(baseDir, "encoding"),
		outputDir:  baseDir,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

const streamingSegmentSeconds = 10

// Start launches ffmpeg with a fixed segment_time, no explicit cut points
// (streamingencoder.py's start_encoding takes no arguments at all).
func (p *StreamingProducer) Start(ctx context.Context) error {
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
		"-f", "segment",
		"-segment_time", strconv.Itoa(streamingSegmentSeconds),
		"-reset_timestamps", "1",
		filepath.Join(p.scratchDir, outputFileFormat),
	}
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("producer: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("producer: starting ffmpeg: %w", err)
	}
	p.cmd = cmd

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { p.monitorStderr(stderr); return nil })
	g.Go(func() error { p.sweepLoop(gctx); return nil })
	g.Go(func() error { p.monitorExit(cmd); return nil })

	go func() {
		if err := g.Wait(); err != nil {
			p.fail(err)
		}
	}()
	return nil
}

func (p *StreamingProducer) monitorStderr(r io.Reader) {
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

func (p *StreamingProducer) monitorExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if err != nil && !stopped {
		p.fail(fmt.Errorf("producer: ffmpeg exited: %w", err))
		if p.OnDone != nil {
			p.OnDone()
		}
		return
	}
	// A clean exit of a live stream just means the source ended; the
	// highest-numbered file is no longer being appended to, so this final
	// sweep promotes it too instead of waiting for a write that will never
	// come.
	p.sweepOnce(true)
	if p.OnDone != nil {
		p.OnDone()
	}
}

func (p *StreamingProducer) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(false)
		}
	}
}

// sweepOnce promotes every finished segment except the one currently
// being written (the highest-numbered file), so a promoted segment's
// bytes are never mutated after OnSegmentReady is called for it --
// unlike the bounded producer, the streaming variant never needs to
// delete anything (there is no resume-from-cue restart to clean up
// after). moveLast promotes the last file too, once the encoder has
// exited and it can no longer grow.
func (p *StreamingProducer) sweepOnce(moveLast bool) {
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

	p.mu.Lock()
	next := p.promoted
	p.mu.Unlock()

	for i, f := range files {
		isLast := i == len(files)-1
		if f.id != next {
			continue
		}
		if isLast && !moveLast {
			// Still being written; wait for the next sweep.
			continue
		}
		if err := p.promote(f.id, f.name); err != nil {
			p.fail(err)
			return
		}
		next++
	}
}

func (p *StreamingProducer) promote(id int, name string) error {
	src := filepath.Join(p.scratchDir, name)
	dst := filepath.Join(p.outputDir, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("producer: promoting segment %d: %w", id, err)
	}

	p.mu.Lock()
	p.promoted = id + 1
	hook := p.OnSegmentReady
	p.cond.Broadcast()
	p.mu.Unlock()

	if hook != nil {
		return hook(id, dst)
	}
	return nil
}

func (p *StreamingProducer) fail(err error) {
	p.mu.Lock()
	first := p.failed == nil
	if first {
		p.failed = err
		log.Printf("%s: streaming producer failed: %v", p.streamID, err)
	}
	hook := p.OnFailed
	p.cond.Broadcast()
	p.mu.Unlock()

	if first && hook != nil {
		hook(err)
	}
}

// Stop terminates the encoder process.
func (p *StreamingProducer) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
}
