package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"os/exec"
	"strconv"
	"time"
)

// FFmpegDecoder shells out to ffprobe and ffmpeg. Each call starts its own
// process.
type FFmpegDecoder struct {
	FFmpeg  string
	FFprobe string
}

// NewFFmpegDecoder returns a decoder using the given binaries.
func NewFFmpegDecoder(ffmpeg, ffprobe string) *FFmpegDecoder {
	return &FFmpegDecoder{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

// Probe reads the first video stream's dimensions and the container duration.
func (d *FFmpegDecoder) Probe(ctx context.Context, source string) (Metadata, error) {
	bin, err := exec.LookPath(d.FFprobe)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		source,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed: %v, stderr: %s", err, stderr.String())
	}
	return parseProbe(stdout.Bytes())
}

// Frame decodes one frame at the offset. When seeking fails or yields nothing
// the first frame is used instead.
func (d *FFmpegDecoder) Frame(ctx context.Context, source string, at time.Duration) (image.Image, error) {
	bin, err := exec.LookPath(d.FFmpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
	}
	out, err := runFFmpeg(ctx, bin, seekArgs(source, at))
	if err != nil || len(out) == 0 {
		out, err = runFFmpeg(ctx, bin, seekArgs(source, 0))
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", source)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg output: %w", err)
	}
	return img, nil
}

func seekArgs(source string, at time.Duration) []string {
	args := make([]string, 0, 12)
	if at > 0 {
		args = append(args, "-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64))
	}
	return append(args,
		"-i", source,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
}

func runFFmpeg(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, append([]string{"-v", "error"}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Metadata{}, fmt.Errorf("no video stream")
	}
	meta := Metadata{Width: out.Streams[0].Width, Height: out.Streams[0].Height}
	if out.Format.Duration != "" {
		secs, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err == nil && secs > 0 {
			meta.Duration = time.Duration(secs * float64(time.Second))
		}
	}
	return meta, nil
}
