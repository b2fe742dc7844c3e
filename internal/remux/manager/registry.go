// Package manager keeps one Encoder alive per distinct source URL and
// tears it down after a period with no active readers, generalizing the
// teacher's Manager idle-ticker/Destroy pattern from "one Manager per
// source, many Stream renditions" down to "one Encoder per source" (this
// proxy has exactly one output rendition: the remuxed original).
package manager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidalstreamer/mkvremux/internal/remux"
	"github.com/tidalstreamer/mkvremux/internal/remux/encoder"
)

// entry bundles an Encoder with the bookkeeping its idle timer needs.
type entry struct {
	id       string
	enc      *encoder.Encoder
	refs     int
	lastUsed time.Time
	cancel   context.CancelFunc
}

// Registry maps source URLs to their in-flight Encoder, reusing one
// across repeat requests for the same URL (original_source's
// MainResource.urlmap behavior) and tearing an Encoder down once it has
// had no active readers for cfg.StreamIdleTime seconds.
type Registry struct {
	cfg *remux.Config

	mu      sync.Mutex
	byURL   map[string]*entry
	byID    map[string]*entry
	closing chan struct{}
}

// New creates a Registry and starts its idle-sweep goroutine.
func New(cfg *remux.Config) *Registry {
	r := &Registry{
		cfg:     cfg,
		byURL:   make(map[string]*entry),
		byID:    make(map[string]*entry),
		closing: make(chan struct{}),
	}
	go r.idleLoop()
	return r
}

// GetOrCreate returns the existing stream id for sourceURL if one is
// already running, or registers and starts a new Encoder. The returned
// id is always a valid key for Acquire/Release.
func (r *Registry) GetOrCreate(ctx context.Context, sourceURL string) (id string, err error) {
	r.mu.Lock()
	if e, ok := r.byURL[sourceURL]; ok {
		e.lastUsed = time.Now()
		id := e.id
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id = uuid.New().String()
	enc := encoder.New(r.cfg, id, sourceURL)
	encCtx, cancel := context.WithCancel(context.Background())
	e := &entry{id: id, enc: enc, lastUsed: time.Now(), cancel: cancel}

	r.mu.Lock()
	r.byURL[sourceURL] = e
	r.byID[id] = e
	r.mu.Unlock()

	if err := enc.Prepare(encCtx); err != nil {
		r.mu.Lock()
		delete(r.byURL, sourceURL)
		delete(r.byID, id)
		r.mu.Unlock()
		cancel()
		return "", err
	}
	log.Printf("%s: started remux of %s", id, sourceURL)
	return id, nil
}

// Acquire fetches the Encoder for id and bumps its reference count; call
// Release when done reading. Returns false if id is unknown (already
// torn down or never existed).
func (r *Registry) Acquire(id string) (*encoder.Encoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	e.refs++
	e.lastUsed = time.Now()
	return e.enc, true
}

// Release drops a reference acquired with Acquire.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		if e.refs > 0 {
			e.refs--
		}
		e.lastUsed = time.Now()
	}
}

// idleLoop mirrors the teacher's 5-second idle-check ticker, tearing down
// any Encoder with no references for StreamIdleTime seconds.
func (r *Registry) idleLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.closing:
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	deadline := time.Duration(r.cfg.StreamIdleTime) * time.Second
	now := time.Now()

	var toDestroy []*entry
	r.mu.Lock()
	for url, e := range r.byURL {
		if e.refs == 0 && now.Sub(e.lastUsed) > deadline {
			delete(r.byURL, url)
			delete(r.byID, e.id)
			toDestroy = append(toDestroy, e)
		}
	}
	r.mu.Unlock()

	for _, e := range toDestroy {
		log.Printf("%s: tearing down idle encoder", e.enc.ID)
		e.enc.Stop()
		e.cancel()
	}
}

// Close stops the idle sweep and tears down every running Encoder,
// for graceful shutdown.
func (r *Registry) Close() {
	close(r.closing)
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.byURL = make(map[string]*entry)
	r.byID = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.enc.Stop()
		e.cancel()
	}
}
