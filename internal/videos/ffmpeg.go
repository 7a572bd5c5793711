package videos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Thumbnail bounds and quality.
const (
	ThumbnailMaxWidth  = 320
	ThumbnailMaxHeight = 180
	ThumbnailQuality   = 85
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// ProbeResult is the subset of ffprobe output used for thumbnails.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
}

// Thumbnailer extracts the middle frame of a video with ffprobe and ffmpeg.
type Thumbnailer struct {
	FFmpeg  string
	FFprobe string
	Run     CommandRunner
	Timeout time.Duration
}

// NewThumbnailer constructs a Thumbnailer that shells out to the given binaries.
func NewThumbnailer(ffmpeg, ffprobe string, timeout time.Duration) *Thumbnailer {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Thumbnailer{
		FFmpeg:  ffmpeg,
		FFprobe: ffprobe,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Probe reads the duration and the dimensions of the first video stream.
func (t *Thumbnailer) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if t == nil {
		return ProbeResult{}, ErrToolUnavailable
	}
	run := t.runner()

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	out, err := run(execCtx, t.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}

	var payload struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(payload.Streams) == 0 || payload.Streams[0].Width <= 0 || payload.Streams[0].Height <= 0 {
		return ProbeResult{}, ErrNotVideo
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64)
	if err != nil || duration < 0 {
		return ProbeResult{}, errors.New("ffprobe reported no duration")
	}

	return ProbeResult{
		Duration: duration,
		Width:    payload.Streams[0].Width,
		Height:   payload.Streams[0].Height,
	}, nil
}

// Thumbnail extracts the frame at the middle of the video, fits it within
// 320x180 preserving the aspect ratio, and returns it JPEG encoded.
func (t *Thumbnailer) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	probe, err := t.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	run := t.runner()

	width, height := FitWithin(probe.Width, probe.Height, ThumbnailMaxWidth, ThumbnailMaxHeight)

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	out, err := run(execCtx, t.FFmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(probe.Duration/2, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg extract frame: %w", err)
	}

	frame, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (t *Thumbnailer) runner() CommandRunner {
	if t.Run == nil {
		return defaultCommandRunner
	}
	return t.Run
}

// FitWithin scales width x height down to fit maxWidth x maxHeight keeping
// the aspect ratio. Frames that already fit are left as is.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return maxWidth, maxHeight
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scale := float64(maxWidth) / float64(width)
	if s := float64(maxHeight) / float64(height); s < scale {
		scale = s
	}

	w := int(float64(width) * scale)
	h := int(float64(height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
