package task

import (
	"context"
	"time"

	"clipmerge/export"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusPlanning   Status = "planning"
	StatusConverting Status = "converting"
	StatusMerging    Status = "merging"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Job is one export submitted to the manager. Values handed out by the
// manager are snapshots.
type Job struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	VideoPaths   []string          `json:"videoPaths"`
	OutputDir    string            `json:"outputDir"`
	Progress     *export.Progress  `json:"progress,omitempty"`
	Events       []export.Progress `json:"-"`
	OutputPath   string            `json:"outputPath,omitempty"`
	Error        string            `json:"error,omitempty"`
	ProbeErrors  map[string]string `json:"probeErrors,omitempty"`
	MixedSources bool              `json:"mixedSources,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
	CompletedAt  time.Time         `json:"completedAt,omitempty"`
	cancelFunc   context.CancelFunc
	changed      chan struct{}
}
