// Package probe inspects media files with ffprobe. It is synchronous and
// side-effect free; callers own timeouts (via ctx) and retries.
package probe

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/courseloom/video-ingest/pkg/models"
)

// Duration is a probed media duration.
type Duration struct {
	Seconds float64 `json:"seconds"`
	Millis  int64   `json:"milliseconds"`
}

// File runs ffprobe against path and returns the container duration. A
// non-zero exit or non-numeric output fails with ErrProbeFailed.
func File(ctx context.Context, path string) (Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Duration{}, fmt.Errorf("%w: %s", models.ErrProbeFailed, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Duration{}, fmt.Errorf("%w: %v", models.ErrProbeFailed, err)
	}

	return parseDuration(string(output))
}

func parseDuration(output string) (Duration, error) {
	raw := strings.TrimSpace(output)
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: non-numeric duration %q", models.ErrProbeFailed, raw)
	}
	if seconds < 0 {
		return Duration{}, fmt.Errorf("%w: negative duration %q", models.ErrProbeFailed, raw)
	}

	return Duration{
		Seconds: seconds,
		Millis:  int64(math.Round(seconds * 1000)),
	}, nil
}
