// Package httpapi exposes the two-route HTTP surface original_source's
// MainResource/Stream.render_GET pair provide: register a source URL and
// get redirected to a stable per-stream path, then GET that path
// repeatedly (with byte-range support) to read the rebuilt file.
package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tidalstreamer/mkvremux/internal/remux"
	"github.com/tidalstreamer/mkvremux/internal/remux/manager"
)

// Handler wires the registry into an http.Handler via gorilla/mux.
type Handler struct {
	cfg      *remux.Config
	registry *manager.Registry
	router   *mux.Router
}

// New builds a Handler and its route table.
func New(cfg *remux.Config, registry *manager.Registry) *Handler {
	h := &Handler{cfg: cfg, registry: registry, router: mux.NewRouter()}
	h.router.HandleFunc("/", h.serveIndex).Methods(http.MethodGet)
	h.router.HandleFunc("/{id}/{name}", h.serveStream).Methods(http.MethodGet)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// serveIndex registers (or reuses) a stream for ?url= and redirects the
// client to its stable path, mirroring MainResource.render_GET.
func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url query parameter", http.StatusBadRequest)
		return
	}

	id, err := h.registry.GetOrCreate(r.Context(), url)
	if err != nil {
		log.Printf("preparing stream for %s: %v", url, err)
		http.Error(w, "could not start remux", http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/%s/stream.mkv", id), http.StatusFound)
}

// serveStream serves the rebuilt Matroska file for an already-registered
// stream id, honoring byte-range requests once the container's total
// size is known.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	enc, ok := h.registry.Acquire(id)
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}
	defer h.registry.Release(id)

	if err := enc.Ready(r.Context()); err != nil {
		log.Printf("%s: waiting for stream readiness: %v", id, err)
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	c, err := enc.Container()
	if err != nil {
		log.Printf("%s: forking container: %v", id, err)
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}
	defer c.Close()

	w.Header().Set("Content-Type", "video/x-matroska")

	// FileContainer already implements io.ReadSeeker directly; ServeContent
	// uses that Seek to discover length and to honor Range requests. Size
	// being known here (the caller already waited on Ready) means Seek to
	// the end won't block.
	if _, ok := c.Size(); ok {
		http.ServeContent(w, r, "stream.mkv", time.Time{}, c)
		return
	}

	// Unknown total size: this is a live/streaming remux. Byte ranges
	// don't apply to a file that's still growing at the end, so stream
	// it straight through instead of going via http.ServeContent (which
	// would otherwise seek to the end to discover Content-Length and
	// block forever).
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 256*1024)
	for {
		n, rerr := c.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			return
		}
	}
}
