// Package remux holds the proxy-wide Config and the shared constants its
// components are built from.
package remux

import (
	"encoding/json"
	"log"
	"os"
	"os/exec"
	"runtime"

	"github.com/joho/godotenv"
)

// Config is the proxy's tunable set, kept in the teacher's shape: a
// JSON-tagged struct, FromFile/AutoDetect/Print trio, filled in from a
// config file and then auto-detected/defaulted.
type Config struct {
	// Current version of mkvremux.
	Version string

	// Is this server configured?
	Configured bool

	// Bind address.
	Bind string `json:"bind"`

	// FFmpeg binary.
	FFmpeg string `json:"ffmpeg"`
	// FFprobe binary.
	FFprobe string `json:"ffprobe"`
	// Per-stream scratch/output directory root.
	TempDir string `json:"tempdir"`

	// Percentage of extra byte budget given to each planned cluster
	// segment beyond the source's own cluster byte span, to tolerate the
	// transcoded audio track outgrowing the original's.
	SegmentMarginPercent int `json:"segmentMarginPercent"`

	// Number of seconds to wait with no active readers before tearing
	// down a stream's encoder (teacher's StreamIdleTime/ManagerIdleTime,
	// collapsed into one knob since this proxy has only one encoder per
	// stream, not one per rendition).
	StreamIdleTime int `json:"streamIdleTime"`

	// Concurrent-encode count, defaulted to the CPU count by AutoDetect
	// when 0. No component reads it: the number of concurrent encodes is
	// not limited.
	MaxConcurrentEncodes int `json:"maxConcurrentEncodes"`
}

// FromFile loads path as JSON over the current config and marks it
// Configured, in the teacher's fail-fast style: a bad config file is a
// startup error, not a recoverable one.
func (c *Config) FromFile(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("Error when opening file: ", err)
	}
	if err := json.Unmarshal(content, c); err != nil {
		log.Fatal("Error loading config file: ", err)
	}
	c.Configured = true
	c.Print()
}

// FromEnv overlays a .env file (if present) and individual environment
// variables onto the config, the container-friendly configuration path
// alongside FromFile's JSON file.
func (c *Config) FromEnv(envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("no .env file loaded from %s: %v", envFile, err)
		}
	}
	if v := os.Getenv("MKVREMUX_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("MKVREMUX_FFMPEG"); v != "" {
		c.FFmpeg = v
	}
	if v := os.Getenv("MKVREMUX_FFPROBE"); v != "" {
		c.FFprobe = v
	}
	if v := os.Getenv("MKVREMUX_TEMPDIR"); v != "" {
		c.TempDir = v
	}
}

// AutoDetect fills in ffmpeg/ffprobe paths and other defaults that can be
// discovered rather than configured.
func (c *Config) AutoDetect() {
	if c.FFmpeg == "" || c.FFprobe == "" {
		ffmpeg, err := exec.LookPath("ffmpeg")
		if err != nil {
			log.Fatal("Could not find ffmpeg")
		}
		ffprobe, err := exec.LookPath("ffprobe")
		if err != nil {
			log.Fatal("Could not find ffprobe")
		}
		c.FFmpeg = ffmpeg
		c.FFprobe = ffprobe
	}

	if c.TempDir == "" {
		c.TempDir = os.TempDir() + "/mkvremux"
	}

	if c.SegmentMarginPercent <= 0 {
		c.SegmentMarginPercent = 15
	}

	if c.StreamIdleTime <= 0 {
		c.StreamIdleTime = 60
	}

	if c.MaxConcurrentEncodes <= 0 {
		c.MaxConcurrentEncodes = runtime.NumCPU()
	}

	c.Print()
}

// Print logs the resolved config, matching the teacher's Print().
func (c *Config) Print() {
	log.Printf("%+v\n", c)
}
