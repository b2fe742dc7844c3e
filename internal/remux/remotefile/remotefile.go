// Package remotefile provides a random-access io.ReadSeeker over an HTTP
// resource, fetched lazily in fixed-size chunks and cached for the
// lifetime of the File.
package remotefile

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ChunkSize is the unit of HTTP range fetch, matching original_source's
// HttpFile (PART_SIZE = 1 MiB).
const ChunkSize = 1 << 20

// File is a read-only, seekable view of a remote HTTP resource. A single
// File is not safe for concurrent use; callers that need concurrent
// access should open independent Files against the same URL, each
// getting its own chunk cache.
type File struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	size     int64
	sizeKnown bool
	pos      int64
	chunks   map[int64][]byte
}

// New creates a File for url. The size isn't known until the first fetch.
func New(url string, client *http.Client) *File {
	if client == nil {
		client = http.DefaultClient
	}
	return &File{url: url, client: client, chunks: make(map[int64][]byte)}
}

// Size returns the resource's total length, fetching the first chunk to
// learn it if necessary.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sizeKnown {
		return f.size, nil
	}
	if _, err := f.fetchChunkLocked(0); err != nil {
		return 0, err
	}
	return f.size, nil
}

// Read implements io.Reader, advancing the internal cursor.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sizeKnown && f.pos >= f.size {
		return 0, io.EOF
	}
	n, err := f.readAtLocked(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		if !f.sizeKnown {
			if _, err := f.fetchChunkLocked(0); err != nil {
				return 0, err
			}
		}
		base = f.size
	default:
		return 0, fmt.Errorf("remotefile: invalid whence %d", whence)
	}
	np := base + offset
	if np < 0 {
		return 0, fmt.Errorf("remotefile: negative seek position")
	}
	f.pos = np
	return np, nil
}

// ReadAt implements io.ReaderAt, letting a File back an ebml.Source
// without disturbing the Read/Seek cursor (each call is independently
// chunk-cached).
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAtLocked(p, off)
}

func (f *File) readAtLocked(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		chunkIdx := (off + int64(total)) / ChunkSize
		chunk, err := f.fetchChunkLocked(chunkIdx)
		if err != nil {
			return total, err
		}
		chunkStart := chunkIdx * ChunkSize
		inChunk := int(off+int64(total)-chunkStart)
		if inChunk >= len(chunk) {
			if f.sizeKnown && off+int64(total) >= f.size {
				if total == 0 {
					return 0, io.EOF
				}
				return total, nil
			}
			return total, io.ErrUnexpectedEOF
		}
		n := copy(p[total:], chunk[inChunk:])
		total += n
		if f.sizeKnown && off+int64(total) >= f.size {
			if total < len(p) {
				return total, io.EOF
			}
			return total, nil
		}
	}
	return total, nil
}

// fetchChunkLocked fetches and caches chunk index idx. Callers must hold f.mu.
func (f *File) fetchChunkLocked(idx int64) ([]byte, error) {
	if c, ok := f.chunks[idx]; ok {
		return c, nil
	}
	start := idx * ChunkSize
	end := start + ChunkSize - 1

	req, err := http.NewRequest(http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("remotefile: range request got non-206 status %s fetching %s", resp.Status, f.url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		f.size = total
		f.sizeKnown = true
	}

	f.chunks[idx] = body
	return body, nil
}

// parseContentRangeTotal extracts the total length from a header of the
// form "bytes start-end/total".
func parseContentRangeTotal(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	slash := strings.LastIndex(v, "/")
	if slash < 0 || slash == len(v)-1 {
		return 0, false
	}
	totalStr := v[slash+1:]
	if totalStr == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
