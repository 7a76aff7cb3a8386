package recording

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Transcoder rewrites a recording into a different container. The target
// path must only exist after a fully successful conversion.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, targetPath string, target Container) error
}

// FFmpegTranscoder shells out to an ffmpeg binary.
type FFmpegTranscoder struct {
	// Bin is the ffmpeg executable path. Empty means "ffmpeg" on PATH.
	Bin string
}

func (t FFmpegTranscoder) Transcode(ctx context.Context, sourcePath, targetPath string, target Container) error {
	bin := strings.TrimSpace(t.Bin)
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{"-y", "-i", sourcePath}
	if target.Name == "mp4" {
		// Browser-recorded webm is opus audio; mp4 playback needs aac.
		args = append(args, "-c:a", "aac")
	}
	args = append(args, targetPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg %s -> %s: %w: %s", sourcePath, target.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
