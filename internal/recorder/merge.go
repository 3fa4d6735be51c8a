package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MergeFunc combines separately captured video and audio files into the
// final container. A non-nil error means merge failure: the caller must
// preserve both input files.
type MergeFunc func(ctx context.Context, videoPath, audioPath, outputPath string) error

// FFmpegMerge muxes with an external ffmpeg process: the video stream is
// copied, audio is re-encoded to AAC, and an existing output is overwritten.
func FFmpegMerge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-y",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, stderrTail(stderr.String()))
	}
	return nil
}

// stderrTail returns the last few lines of ffmpeg output; the failure
// reason is always at the end.
func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}
