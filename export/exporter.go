// Package export turns an ordered list of clips into one merged file:
// non-conforming clips are transcoded into temporary artifacts one at a
// time, then everything is stream-copied together in the requested order.
package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"clipmerge/media"
)

// Stage tags progress events.
type Stage string

const (
	StageConverting Stage = "converting"
	StageMerging    Stage = "merging"
)

// Progress is one step notification. Percent never decreases within an
// export and the last event of a run that reaches the merge is 100.
type Progress struct {
	Stage   Stage `json:"stage"`
	Current int   `json:"current"`
	Total   int   `json:"total"`
	Percent int   `json:"percent"`
}

// Sink receives progress in emission order. It must not block.
type Sink func(Progress)

// Request is one export: clips in merge order and the directory the merged
// file goes to.
type Request struct {
	VideoPaths []string `json:"videoPaths"`
	OutputDir  string   `json:"outputDir"`
}

// Outcome is the single terminal result of an export: an output path on
// success, otherwise Err with a readable Message.
type Outcome struct {
	OutputPath string `json:"outputPath,omitempty"`
	Message    string `json:"error,omitempty"`
	Canceled   bool   `json:"canceled,omitempty"`
	Err        error  `json:"-"`
}

// OK reports whether the export produced an output file.
func (o Outcome) OK() bool { return o.Err == nil }

// FSError reports a directory that could not be prepared.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }

// Stages runs the external encoder. Each call blocks until the process exits.
type Stages interface {
	Transcode(ctx context.Context, in, out string) error
	Concat(ctx context.Context, paths []string, out string) error
}

// Plan flags, per input index, whether that clip must be transcoded.
type Plan []bool

// BuildPlan runs the conversion policy over paths in order. A path with no
// metadata is left as-is rather than treated as an error.
func BuildPlan(paths []string, md media.Metadata, p media.Profile) Plan {
	plan := make(Plan, len(paths))
	for i, path := range paths {
		d, ok := md[path]
		plan[i] = ok && media.NeedsConversion(d, p)
	}
	return plan
}

// Pending returns the flagged indices in ascending order.
func (p Plan) Pending() []int {
	var idx []int
	for i, flagged := range p {
		if flagged {
			idx = append(idx, i)
		}
	}
	return idx
}

type Exporter struct {
	stages   Stages
	profile  media.Profile
	tempDir  string
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewExporter(stages Stages, profile media.Profile, tempDir string, loc *time.Location, logger *zap.Logger) *Exporter {
	return &Exporter{
		stages:   stages,
		profile:  profile,
		tempDir:  tempDir,
		location: loc,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "export")),
	}
}

// Export runs one export to completion and returns its outcome. Transcodes
// run sequentially in input order, strictly before the single concat.
// Temporary artifacts are removed before Export returns, whatever the
// outcome. metadata is only read.
func (e *Exporter) Export(ctx context.Context, req Request, metadata media.Metadata, sink Sink) Outcome {
	if sink == nil {
		sink = func(Progress) {}
	}

	var artifacts []string
	defer func() { e.cleanup(artifacts) }()

	out, err := e.run(ctx, req, metadata, sink, &artifacts)
	if err != nil {
		e.logger.Error("export failed", zap.Error(err))
		return Outcome{
			Message:  err.Error(),
			Canceled: errors.Is(err, context.Canceled),
			Err:      err,
		}
	}
	e.logger.Info("export complete", zap.String("output", out))
	return Outcome{OutputPath: out}
}

func (e *Exporter) run(ctx context.Context, req Request, metadata media.Metadata, sink Sink, artifacts *[]string) (string, error) {
	if len(req.VideoPaths) == 0 {
		return "", errors.New("no input videos")
	}
	for _, dir := range []string{e.tempDir, req.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &FSError{Op: "create directory", Path: dir, Err: err}
		}
	}

	plan := BuildPlan(req.VideoPaths, metadata, e.profile)
	pending := plan.Pending()
	totalSteps := len(pending) + 1

	e.logger.Info("export planned",
		zap.Int("inputs", len(req.VideoPaths)),
		zap.Int("conversions", len(pending)),
	)

	mergeOrder := make([]string, len(req.VideoPaths))
	copy(mergeOrder, req.VideoPaths)

	for step, idx := range pending {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("export interrupted: %w", err)
		}
		current := step + 1
		sink(Progress{
			Stage:   StageConverting,
			Current: current,
			Total:   len(pending),
			Percent: percent(current, totalSteps),
		})

		tmp := filepath.Join(e.tempDir, fmt.Sprintf("temp_%d_%d.mp4", idx, e.now().UnixMilli()))
		*artifacts = append(*artifacts, tmp)
		if err := e.stages.Transcode(ctx, req.VideoPaths[idx], tmp); err != nil {
			return "", fmt.Errorf("convert %s: %w", filepath.Base(req.VideoPaths[idx]), err)
		}
		mergeOrder[idx] = tmp
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("export interrupted: %w", err)
	}
	sink(Progress{Stage: StageMerging, Current: 1, Total: 1, Percent: 100})

	out := OutputPath(req.OutputDir, e.now(), e.location)
	if err := e.stages.Concat(ctx, mergeOrder, out); err != nil {
		return "", fmt.Errorf("merge: %w", err)
	}
	return out, nil
}

// cleanup removes every artifact; failures only leave orphans behind.
func (e *Exporter) cleanup(artifacts []string) {
	for _, path := range artifacts {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("could not remove temporary file", zap.String("path", path), zap.Error(err))
		}
	}
}

func percent(current, total int) int {
	return int(math.Round(float64(current) / float64(total) * 100))
}
