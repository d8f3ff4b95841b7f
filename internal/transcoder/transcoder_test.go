package transcoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildFilterGraph(t *testing.T) {
	got := buildFilterGraph(DefaultLadder)
	want := "[0:v]split=3[v1][v2][v3];" +
		"[v1]scale=1920:1080[v1out];" +
		"[v2]scale=1280:720[v2out];" +
		"[v3]scale=854:480[v3out]"
	if got != want {
		t.Errorf("buildFilterGraph() = %q, want %q", got, want)
	}
}

func TestBuildFilterGraphSingleRendition(t *testing.T) {
	ladder := []Rendition{{Name: "720p", Width: 1280, Height: 720}}
	got := buildFilterGraph(ladder)
	want := "[0:v]split=1[v1];[v1]scale=1280:720[v1out]"
	if got != want {
		t.Errorf("buildFilterGraph() = %q, want %q", got, want)
	}
}

func TestBuildFilterGraphEmpty(t *testing.T) {
	if got := buildFilterGraph(nil); got != "" {
		t.Errorf("buildFilterGraph(nil) = %q, want empty", got)
	}
}

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()

	if err := WriteMasterPlaylist(dir, DefaultLadder); err != nil {
		t.Fatalf("WriteMasterPlaylist() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "master.m3u8"))
	if err != nil {
		t.Fatalf("failed to read playlist: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Errorf("playlist header wrong:\n%s", content)
	}
	for _, r := range DefaultLadder {
		if !strings.Contains(content, r.Name+"/playlist.m3u8") {
			t.Errorf("playlist missing rendition %s:\n%s", r.Name, content)
		}
	}
	if !strings.Contains(content, "BANDWIDTH=5500000,RESOLUTION=1920x1080") {
		t.Errorf("playlist missing 1080p stream-inf:\n%s", content)
	}
}

func TestCreateRenditionDirs(t *testing.T) {
	dir := t.TempDir()

	if err := CreateRenditionDirs(dir, DefaultLadder); err != nil {
		t.Fatalf("CreateRenditionDirs() error = %v", err)
	}

	for _, r := range DefaultLadder {
		info, err := os.Stat(filepath.Join(dir, r.Name))
		if err != nil {
			t.Errorf("missing rendition dir %s: %v", r.Name, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", r.Name)
		}
	}
}

func TestBuildArgsOnePlaylistPerRendition(t *testing.T) {
	tc := New(nil, nil)
	args := tc.buildArgs("/tmp/in.mp4", "/tmp/out")

	joined := strings.Join(args, " ")
	for _, r := range DefaultLadder {
		if !strings.Contains(joined, filepath.Join("/tmp/out", r.Name, "playlist.m3u8")) {
			t.Errorf("args missing playlist for %s", r.Name)
		}
		if !strings.Contains(joined, filepath.Join("/tmp/out", r.Name, "seg_%03d.ts")) {
			t.Errorf("args missing segment template for %s", r.Name)
		}
	}
	if !strings.Contains(joined, "-filter_complex") {
		t.Error("args missing filter_complex")
	}
}
