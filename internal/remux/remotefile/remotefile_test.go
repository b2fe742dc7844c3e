package remotefile

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		var start, end int
		if _, err := fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end); err != nil {
			t.Fatalf("bad range header %q", rangeHdr)
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

func TestFileReadAtAcrossChunks(t *testing.T) {
	data := make([]byte, ChunkSize*2+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srv := rangeServer(t, data)
	defer srv.Close()

	f := New(srv.URL, srv.Client())
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", size, len(data))
	}

	buf := make([]byte, 300)
	n, err := f.ReadAt(buf, int64(ChunkSize-150))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("n = %d, want %d", n, len(buf))
	}
	want := data[ChunkSize-150 : ChunkSize-150+300]
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, buf[i], want[i])
		}
	}
}

func TestFileSeekAndRead(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	srv := rangeServer(t, data)
	defer srv.Close()

	f := New(srv.URL, srv.Client())
	if _, err := f.Seek(4, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "quick" {
		t.Fatalf("got %q", buf[:n])
	}
}
