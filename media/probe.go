package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProbeError reports that metadata could not be read for a file: the probe
// binary is missing, exited non-zero, or printed something unparseable.
type ProbeError struct {
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProbeError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("probe %q: exit code %d: %s", e.Path, e.ExitCode, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("probe %q: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober reads clip metadata with ffprobe.
type Prober struct {
	bin     string
	timeout time.Duration
	logger  *zap.Logger
}

func NewProber(bin string, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "probe")),
	}
}

// Probe runs one ffprobe JSON call against path and stats the file for its
// modification time.
func (p *Prober) Probe(ctx context.Context, path string) (Descriptor, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		perr := &ProbeError{Path: path, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			perr.ExitCode = exitErr.ExitCode()
		}
		p.logger.Warn("ffprobe failed", zap.String("path", path), zap.Error(perr))
		return Descriptor{}, perr
	}

	d, err := ParseProbeJSON(stdout.Bytes())
	if err != nil {
		return Descriptor{}, &ProbeError{Path: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, &ProbeError{Path: path, Err: err}
	}
	d.ModifiedTime = info.ModTime()

	if d.CreationTag != "" && d.CreationTime == nil {
		p.logger.Debug("unparsable creation_time tag, falling back to mtime",
			zap.String("path", path), zap.String("creation_time", d.CreationTag))
	}

	p.logger.Debug("probed clip",
		zap.String("path", path),
		zap.String("video_codec", d.VideoCodec),
		zap.String("audio_codec", d.AudioCodec),
		zap.Int("width", d.Width),
		zap.Int("height", d.Height),
		zap.Float64("frame_rate", d.FrameRate),
	)
	return d, nil
}

// ParseProbeJSON converts raw ffprobe output into a Descriptor. The first
// video and first audio stream win; missing codecs read as "unknown".
// ModifiedTime is left zero for the caller to fill in.
func ParseProbeJSON(data []byte) (Descriptor, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	d := Descriptor{VideoCodec: "unknown", AudioCodec: "unknown"}

	var video, audio *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}

	if video != nil {
		if video.CodecName != "" {
			d.VideoCodec = video.CodecName
		}
		d.Width = video.Width
		d.Height = video.Height
		d.FrameRate = ParseFrameRate(video.RFrameRate)
	}
	if audio != nil && audio.CodecName != "" {
		d.AudioCodec = audio.CodecName
	}

	if ct, ok := raw.Format.Tags["creation_time"]; ok {
		d.CreationTag = ct
		if t, err := time.Parse(time.RFC3339Nano, ct); err == nil {
			d.CreationTime = &t
		}
	}
	return d, nil
}

// ParseFrameRate turns ffprobe's "num/den" rational into a rate rounded to
// two decimals. A zero or missing denominator means num is already the rate.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	numStr, denStr, _ := strings.Cut(s, "/")
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0
	}
	rate := num
	if den, err := strconv.ParseFloat(denStr, 64); err == nil && den != 0 {
		rate = num / den
	}
	return math.Round(rate*100) / 100
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}
