// Package muxer merges a video-only and an audio-only file into one playable
// file with an external ffmpeg process.
package muxer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ytget/ytfetch/internal/logger"
)

const (
	// EnvPath overrides the ffmpeg binary when no explicit path is given.
	EnvPath      = "YTFETCH_FFMPEG"
	defaultPath  = "ffmpeg"
	stderrTailSz = 512

	// waitDelay bounds how long a killed ffmpeg may hold its stderr pipe.
	waitDelay = 2 * time.Second
)

var log = logger.WithComponent(logger.ComponentMuxer)

// Muxer defines the interface for media muxing operations.
type Muxer interface {
	Available() bool
	Merge(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// FFmpegMuxer implements Muxer using the ffmpeg command line tool. The video
// codec is copied unchanged and audio is re-encoded to AAC.
type FFmpegMuxer struct {
	Path string
}

var _ Muxer = (*FFmpegMuxer)(nil)

// NewFFmpegMuxer returns a new FFmpegMuxer. An empty path falls back to
// $YTFETCH_FFMPEG, then to "ffmpeg" looked up in PATH.
func NewFFmpegMuxer(path string) *FFmpegMuxer {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		path = defaultPath
	}
	return &FFmpegMuxer{Path: path}
}

// Available checks if ffmpeg is executable.
func (f *FFmpegMuxer) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// Args returns the ffmpeg argument list for one merge.
func Args(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		outputPath,
		"-loglevel", "quiet",
		"-stats",
	}
}

// Merge runs ffmpeg. A non-zero exit, a missing output or an empty output is
// an error; inputs are never removed here.
func (f *FFmpegMuxer) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, Args(videoPath, audioPath, outputPath)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	log.Debug("Running ffmpeg", logger.Fields{"path": f.Path, "video": videoPath, "audio": audioPath, "output": outputPath})
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg merge aborted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg merge failed: %w%s", err, tail(stderr.String()))
	}

	fi, err := os.Stat(outputPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("ffmpeg produced no output file %s", outputPath)
	case err != nil:
		return fmt.Errorf("stat merge output: %w", err)
	case fi.Size() == 0:
		return fmt.Errorf("ffmpeg produced an empty output file %s", outputPath)
	}
	log.Debug("Merge finished", logger.Fields{"output": outputPath, "size": humanize.IBytes(uint64(fi.Size())), "elapsed": time.Since(start).String()})
	return nil
}

// tail keeps the end of ffmpeg's stderr for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > stderrTailSz {
		s = s[len(s)-stderrTailSz:]
	}
	return ": " + s
}
