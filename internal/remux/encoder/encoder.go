// Package encoder implements the façade original_source's Encoder/
// StreamingEncoder classes provide: probe the source, compute a layout,
// drive a producer, and hand back a FileContainer that grows from empty
// to fully planned without ever blocking the caller on the encode
// finishing.
package encoder

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/tidalstreamer/mkvremux/internal/remux"
	"github.com/tidalstreamer/mkvremux/internal/remux/container"
	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
	"github.com/tidalstreamer/mkvremux/internal/remux/lazypart"
	"github.com/tidalstreamer/mkvremux/internal/remux/layout"
	"github.com/tidalstreamer/mkvremux/internal/remux/producer"
	"github.com/tidalstreamer/mkvremux/internal/remux/remotefile"
)

// Encoder owns one source URL's remux: it is created immediately on
// request, but its FileContainer isn't ready to be copied for a client
// until check_if_ready_to_stream's Go equivalent, Ready, unblocks.
type Encoder struct {
	ID        string
	SourceURL string

	cfg     *remux.Config
	baseDir string

	mu        sync.Mutex
	container *container.FileContainer
	ready     bool
	waiters   []chan struct{}
	prepErr   error

	seg       *producer.SegmentProducer
	streaming *producer.StreamingProducer
}

// New creates an Encoder for sourceURL, identified by id (normally a
// UUID assigned by the manager registry).
func New(cfg *remux.Config, id, sourceURL string) *Encoder {
	return &Encoder{
		ID:        id,
		SourceURL: sourceURL,
		cfg:       cfg,
		baseDir:   filepath.Join(cfg.TempDir, id),
	}
}

// Prepare probes the source and starts the appropriate producer. It
// returns once probing succeeds and the producer has been launched; it
// does not wait for the first segment, let alone the whole encode.
func (e *Encoder) Prepare(ctx context.Context) error {
	rf := remotefile.New(e.SourceURL, nil)
	size, err := rf.Size()
	if err != nil {
		return fmt.Errorf("encoder: fetching source size: %w", err)
	}

	seg, err := ebml.ReadSegmentHeader(rf, size)
	if err != nil {
		return fmt.Errorf("encoder: reading source Segment header: %w", err)
	}

	parts, err := producer.ExtractHeaderParts(seg)
	if err == ebml.ErrNotSeekHead {
		log.Printf("%s: source is not SeekHead-first, falling back to streaming remux", e.ID)
		return e.prepareStreaming(ctx)
	}
	if err != nil {
		return fmt.Errorf("encoder: extracting source header: %w", err)
	}
	return e.prepareBounded(ctx, parts)
}

func (e *Encoder) prepareBounded(ctx context.Context, parts *producer.HeaderParts) error {
	cues := make([]layout.CuePoint, len(parts.Cues))
	segmentTimes := make([]float64, len(parts.Cues))
	for i, c := range parts.Cues {
		cues[i] = layout.CuePoint{TimeNS: c.TimeNS, SourcePos: c.SourcePos}
		segmentTimes[i] = float64(c.TimeNS) / 1e9
	}
	// ffmpeg's -segment_times wants cut points, not the leading zero time.
	if len(segmentTimes) > 0 && segmentTimes[0] == 0 {
		segmentTimes = segmentTimes[1:]
	}

	e.seg = producer.New(e.ID, e.cfg.FFmpeg, e.SourceURL, e.baseDir, segmentTimes)
	e.seg.OnFirstSegmentPromoted = func(path string) error {
		return e.onFirstSegment(path, parts, cues)
	}
	e.seg.OnFailed = func(err error) {
		e.markReady(nil, err)
	}
	return e.seg.Start(ctx, 0, nil)
}

func (e *Encoder) onFirstSegment(path string, parts *producer.HeaderParts, cues []layout.CuePoint) error {
	tracks, err := producer.ProbeTracks(path)
	if err != nil {
		return err
	}
	plan, err := layout.Plan(parts.TimecodeScale, parts.DurationNS, tracks, cues, parts.SegmentSize, e.cfg.SegmentMarginPercent)
	if err != nil {
		return err
	}

	c := container.New()
	c.WriteElement(container.Static(plan.Header))
	for i, budget := range plan.ClusterBudgets {
		idx := i
		b := budget
		c.WriteElement(container.Lazy(lazypart.New(b, func() ([]byte, error) {
			segPath, err := e.seg.WaitForSegment(context.Background(), idx)
			if err != nil {
				return nil, err
			}
			return producer.WrapSegment(segPath, b)
		})))
	}
	c.MarkDone()

	e.markReady(c, nil)
	return nil
}

func (e *Encoder) prepareStreaming(ctx context.Context) error {
	durationNS, err := producer.ProbeDuration(ctx, e.cfg.FFprobe, e.SourceURL)
	if err != nil {
		log.Printf("%s: ffprobe duration probe failed, continuing with unknown duration: %v", e.ID, err)
		durationNS = 0
	}

	e.streaming = producer.NewStreaming(e.ID, e.cfg.FFmpeg, e.SourceURL, e.baseDir)

	c := container.New()
	var headerWritten bool
	e.streaming.OnSegmentReady = func(index int, path string) error {
		if !headerWritten {
			tracks, err := producer.ProbeTracks(path)
			if err != nil {
				return err
			}
			sp := layout.PlanStreaming(1000000, durationNS, tracks)
			c.WriteElement(container.Static(sp.Header))
			headerWritten = true
			e.markReady(c, nil)
		}
		clusters, err := producer.ExtractClusterBytes(path)
		if err != nil {
			return err
		}
		c.WriteElement(container.Static(clusters))
		return nil
	}
	e.streaming.OnDone = func() {
		c.MarkDone()
	}
	e.streaming.OnFailed = func(err error) {
		e.markReady(nil, err)
	}

	return e.streaming.Start(ctx)
}

func (e *Encoder) markReady(c *container.FileContainer, err error) {
	e.mu.Lock()
	if e.ready {
		e.mu.Unlock()
		return
	}
	e.container = c
	e.prepErr = err
	e.ready = true
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Ready blocks until the encoder's container exists (its header and
// every planned segment slot have been registered -- check_if_ready_to_
// stream's equivalent), or ctx is cancelled.
func (e *Encoder) Ready(ctx context.Context) error {
	e.mu.Lock()
	if e.ready {
		err := e.prepErr
		e.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	select {
	case <-ch:
		e.mu.Lock()
		err := e.prepErr
		e.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Container returns a fresh fork of the canonical container for a new
// client to read from independently. Callers must call Ready first.
func (e *Encoder) Container() (*container.FileContainer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil, fmt.Errorf("encoder: not ready")
	}
	if e.prepErr != nil {
		return nil, e.prepErr
	}
	return e.container.Copy(), nil
}

// Stop tears down whichever producer is running.
func (e *Encoder) Stop() {
	if e.seg != nil {
		e.seg.Stop(true)
	}
	if e.streaming != nil {
		e.streaming.Stop()
	}
}
