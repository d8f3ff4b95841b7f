package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rendition defines the encoding parameters for one quality level of the
// output ladder.
type Rendition struct {
	Name      string
	Width     int
	Height    int
	Bitrate   string
	MaxRate   string
	BufSize   string
	AudioBPS  string
	Bandwidth int
}

// DefaultLadder is the standard rendition ladder for course videos.
var DefaultLadder = []Rendition{
	{"1080p", 1920, 1080, "5M", "5.5M", "7.5M", "192k", 5500000},
	{"720p", 1280, 720, "2.5M", "2.75M", "5M", "128k", 2750000},
	{"480p", 854, 480, "1M", "1.1M", "2M", "96k", 1100000},
}

// buildFilterGraph generates the ffmpeg filter_complex string that splits the
// source into one scaled stream per rendition.
func buildFilterGraph(ladder []Rendition) string {
	n := len(ladder)
	if n == 0 {
		return ""
	}

	var splitOutputs strings.Builder
	for i := 1; i <= n; i++ {
		splitOutputs.WriteString(fmt.Sprintf("[v%d]", i))
	}

	var filter strings.Builder
	filter.WriteString(fmt.Sprintf("[0:v]split=%d%s;", n, splitOutputs.String()))

	for i, r := range ladder {
		filter.WriteString(fmt.Sprintf("[v%d]scale=%d:%d[v%dout]", i+1, r.Width, r.Height, i+1))
		if i < n-1 {
			filter.WriteString(";")
		}
	}

	return filter.String()
}

// WriteMasterPlaylist creates the master HLS playlist referencing every
// rendition's media playlist.
func WriteMasterPlaylist(outDir string, ladder []Rendition) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, r := range ladder {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			r.Bandwidth, r.Width, r.Height))
		b.WriteString(fmt.Sprintf("%s/playlist.m3u8\n", r.Name))
	}

	return os.WriteFile(filepath.Join(outDir, "master.m3u8"), []byte(b.String()), 0o644)
}

// CreateRenditionDirs creates one output directory per rendition.
func CreateRenditionDirs(outDir string, ladder []Rendition) error {
	for _, r := range ladder {
		if err := os.MkdirAll(filepath.Join(outDir, r.Name), 0o755); err != nil {
			return fmt.Errorf("failed to create rendition dir %s: %w", r.Name, err)
		}
	}
	return nil
}
