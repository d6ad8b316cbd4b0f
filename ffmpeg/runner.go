package ffmpeg

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"clipmerge/config"
	"clipmerge/media"
)

type Runner struct {
	cfg       *config.Config
	bin       string
	profile   media.Profile
	extraArgs []string
	tempDir   string
	thumbDir  string
	logger    *zap.Logger
}

func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	// Ensure ffmpeg binary is executable
	bin, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}

	extra, err := SplitArgs(cfg.EncodeExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(extra); err != nil {
		return nil, fmt.Errorf("invalid ENCODE_EXTRA_ARGS: %w", err)
	}

	for _, dir := range []string{cfg.TempDir(), cfg.ThumbnailDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}

	logger = logger.With(zap.String("component", "ffmpeg"))
	logger.Info("ffmpeg runner initialised",
		zap.String("bin", bin),
		zap.String("temp_dir", cfg.TempDir()),
		zap.Strings("extra_args", extra),
	)

	return &Runner{
		cfg:       cfg,
		bin:       bin,
		profile:   cfg.Profile(),
		extraArgs: extra,
		tempDir:   cfg.TempDir(),
		thumbDir:  cfg.ThumbnailDir(),
		logger:    logger,
	}, nil
}

// TranscodeArgs builds the argument list that re-encodes in to the profile.
func TranscodeArgs(p media.Profile, extra []string, in, out string) []string {
	args := []string{
		"-i", in,
		"-c:v", p.VideoEncoder,
		"-c:a", p.AudioEncoder,
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		"-r", strconv.FormatFloat(p.FrameRate, 'f', -1, 64),
	}
	args = append(args, extra...)
	return append(args, "-y", out)
}

// ConcatArgs builds the stream-copy concat invocation for a manifest.
func ConcatArgs(manifest, out string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-y", out,
	}
}

// Transcode re-encodes in into out, overwriting out. The source is never
// touched; a partial out is removed on failure.
func (r *Runner) Transcode(ctx context.Context, in, out string) error {
	if err := r.run(ctx, OpTranscode, TranscodeArgs(r.profile, r.extraArgs, in, out)); err != nil {
		os.Remove(out)
		return err
	}
	return nil
}

// Concat losslessly joins paths, in order, into out. The manifest it writes
// is removed afterwards whatever the outcome; failing to remove it is not an
// error.
func (r *Runner) Concat(ctx context.Context, paths []string, out string) error {
	if len(paths) == 0 {
		return errors.New("concat: no inputs")
	}
	manifest, err := WriteManifest(r.tempDir, paths)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(manifest); err != nil && !os.IsNotExist(err) {
			r.logger.Debug("could not remove concat manifest", zap.String("path", manifest), zap.Error(err))
		}
	}()

	if err := r.run(ctx, OpConcat, ConcatArgs(manifest, out)); err != nil {
		os.Remove(out)
		return err
	}
	return nil
}

// Thumbnail returns a cached 160px-wide preview frame for path, extracting
// it at the one-second mark on first request.
func (r *Runner) Thumbnail(ctx context.Context, path string) (string, error) {
	sum := md5.Sum([]byte(path))
	thumb := filepath.Join(r.thumbDir, hex.EncodeToString(sum[:])+".jpg")

	if _, err := os.Stat(thumb); err == nil {
		return thumb, nil
	}

	args := []string{
		"-ss", "1",
		"-i", path,
		"-vframes", "1",
		"-vf", "scale=160:-1",
		"-y", thumb,
	}
	if err := r.run(ctx, OpThumbnail, args); err != nil {
		os.Remove(thumb)
		return "", err
	}
	return thumb, nil
}

// run executes one ffmpeg process and waits for it to exit. A cancelled ctx
// kills the process.
func (r *Runner) run(ctx context.Context, op string, args []string) error {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	r.logger.Info("executing ffmpeg", zap.String("op", op), zap.Strings("args", args))
	start := time.Now()

	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		r.logger.Info("ffmpeg finished", zap.String("op", op), zap.Duration("elapsed", elapsed))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("ffmpeg interrupted", zap.String("op", op), zap.Error(ctxErr))
		return fmt.Errorf("ffmpeg %s interrupted: %w", op, ctxErr)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	r.logger.Warn("ffmpeg failed",
		zap.String("op", op),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed),
	)
	return &ExitError{Op: op, ExitCode: exitCode, Stderr: stderrBuf.String(), Err: err}
}

// CheckResources verifies that the system has enough free resources to start
// an export. A zero threshold disables that check.
func (r *Runner) CheckResources() error {
	// CPU
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.Warn("could not get CPU usage", zap.Error(err))
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	// Memory
	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn("could not get memory usage", zap.Error(err))
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	// Disk
	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.tempDir)
		if err != nil {
			r.logger.Warn("could not get disk usage", zap.String("dir", r.tempDir), zap.Error(err))
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
