package producer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tidalstreamer/mkvremux/internal/remux/ebml"
)

func writeFakeSegment(t *testing.T, dir, name string, clusterPayload []byte) string {
	t.Helper()
	cluster := ebml.Encode(ebml.Binary(ebml.IDCluster, clusterPayload))
	segPayload := cluster
	out := ebml.CreateEBMLHeader()
	out = append(out, ebml.EncodeID(ebml.IDSegment)...)
	out = append(out, ebml.EncodeSize(uint64(len(segPayload)))...)
	out = append(out, segPayload...)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestWrapSegmentPadsToExactBudget(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeSegment(t, dir, "output-00000.mkv", []byte("clusterdata"))

	got, err := WrapSegment(path, 200)
	if err != nil {
		t.Fatalf("WrapSegment: %v", err)
	}
	if len(got) != 200 {
		t.Fatalf("len = %d, want 200", len(got))
	}
}

func TestWrapSegmentRejectsOverBudget(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeSegment(t, dir, "output-00001.mkv", make([]byte, 500))

	if _, err := WrapSegment(path, 10); err == nil {
		t.Fatalf("expected error when encoded bytes exceed budget")
	}
}

func TestOutputFileRegex(t *testing.T) {
	cases := map[string]bool{
		"output-00000.mkv": true,
		"output-12345.mkv": true,
		"output.mkv":       false,
		"other-00000.mkv":  false,
	}
	for name, want := range cases {
		if got := outputFileRE.MatchString(name); got != want {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestJoinTimes(t *testing.T) {
	got := joinTimes([]float64{1, 2.5, 10})
	want := "1.000,2.500,10.000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
