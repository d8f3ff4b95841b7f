// Package transcoder wraps the ffmpeg invocation that turns a source video
// into an HLS rendition ladder.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/pkg/models"
	"go.opentelemetry.io/otel"
)

// SegmentDuration is the length of each HLS segment in seconds.
const SegmentDuration = 6

var tracer = otel.Tracer("ingest-transcoder")

// Transcoder runs ffmpeg for one rendition ladder.
type Transcoder struct {
	ladder []Rendition
	log    *slog.Logger
}

// New creates a Transcoder; a nil ladder gets the default.
func New(ladder []Rendition, log *slog.Logger) *Transcoder {
	if ladder == nil {
		ladder = DefaultLadder
	}
	return &Transcoder{ladder: ladder, log: log}
}

// Ladder returns the configured renditions.
func (t *Transcoder) Ladder() []Rendition {
	return t.ladder
}

// Run transcodes inputPath into outDir, one subdirectory per rendition plus
// the master playlist.
func (t *Transcoder) Run(ctx context.Context, inputPath, outDir string) error {
	ctx, span := tracer.Start(ctx, "transcode")
	defer span.End()

	start := time.Now()

	if err := CreateRenditionDirs(outDir, t.ladder); err != nil {
		return err
	}

	if err := t.runFFmpeg(ctx, inputPath, outDir); err != nil {
		return err
	}

	if err := WriteMasterPlaylist(outDir, t.ladder); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}

	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (t *Transcoder) runFFmpeg(ctx context.Context, inputPath, outDir string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", t.buildArgs(inputPath, outDir)...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.monitorOutput(ctx, stderrPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: context canceled", models.ErrFFmpegFailed)
		}
		return fmt.Errorf("%w: %v", models.ErrFFmpegFailed, cmdErr)
	}

	return nil
}

func (t *Transcoder) buildArgs(inputPath, outDir string) []string {
	args := []string{
		"-i", inputPath,
		"-preset", "veryfast",
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level", "4.1",
		"-g", "100",
		"-keyint_min", "100",
		"-sc_threshold", "0",
		"-flags", "+cgop",
		"-filter_complex", buildFilterGraph(t.ladder),
	}

	for i, r := range t.ladder {
		args = append(args,
			"-map", fmt.Sprintf("[v%dout]", i+1),
			"-map", "0:a?",
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-b:v:%d", i), r.Bitrate,
			fmt.Sprintf("-maxrate:v:%d", i), r.MaxRate,
			fmt.Sprintf("-bufsize:v:%d", i), r.BufSize,
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), r.AudioBPS,
			"-hls_time", fmt.Sprintf("%d", SegmentDuration),
			"-hls_list_size", "0",
			"-hls_segment_filename", filepath.Join(outDir, r.Name, "seg_%03d.ts"),
			filepath.Join(outDir, r.Name, "playlist.m3u8"),
		)
	}

	return args
}

func (t *Transcoder) monitorOutput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
				t.log.Debug("ffmpeg progress", "output", line)
			} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
				t.log.Warn("ffmpeg warning", "output", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn("ffmpeg output scanner error", "error", err)
	}
}
