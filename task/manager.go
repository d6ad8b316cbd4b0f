package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"clipmerge/config"
	"clipmerge/export"
	"clipmerge/logging"
	"clipmerge/media"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("export not found")

type Prober interface {
	Probe(ctx context.Context, path string) (media.Descriptor, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request, metadata media.Metadata, sink export.Sink) export.Outcome
}

type ResourceChecker interface {
	CheckResources() error
}

// Manager queues export jobs and runs them one at a time.
type Manager struct {
	cfg       *config.Config
	prober    Prober
	exporter  Exporter
	checker   ResourceChecker
	logger    *zap.Logger
	mu        sync.Mutex
	jobs      map[string]*Job
	taskQueue chan *Job
	wg        sync.WaitGroup
}

// NewManager wires the manager. checker may be nil to skip resource checks.
func NewManager(cfg *config.Config, prober Prober, exporter Exporter, checker ResourceChecker, logger *zap.Logger) (*Manager, error) {
	if prober == nil || exporter == nil {
		return nil, errors.New("task manager needs a prober and an exporter")
	}
	return &Manager{
		cfg:       cfg,
		prober:    prober,
		exporter:  exporter,
		checker:   checker,
		logger:    logger.With(zap.String("component", "task")),
		jobs:      make(map[string]*Job),
		taskQueue: make(chan *Job, 100),
	}, nil
}

// Start runs the worker and prune loops until ctx is done. Canceling ctx
// also cancels the running export; use Wait to let it finish cleaning up.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("task manager started")
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.pruneLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.workerLoop(ctx)
	}()
}

// Wait blocks until the loops started by Start have returned, which includes
// the running export's temp-file cleanup, or until ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running export: %w", ctx.Err())
	}
}

// workerLoop runs queued jobs sequentially; only one export is ever in flight.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("worker loop shutting down")
			return
		case job := <-m.taskQueue:
			m.processJob(ctx, job)
		}
	}
}

// processJob probes the job's inputs and runs the export.
func (m *Manager) processJob(parentCtx context.Context, job *Job) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if m.cfg.FFTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	m.mu.Lock()
	if job.Status == StatusCanceled {
		m.mu.Unlock()
		m.logger.Info("export was canceled before processing", zap.String("export_id", job.ID))
		return
	}
	job.cancelFunc = cancel
	job.Status = StatusPlanning
	job.StartedAt = time.Now()
	req := export.Request{VideoPaths: append([]string(nil), job.VideoPaths...), OutputDir: job.OutputDir}
	m.notifyLocked(job)
	m.mu.Unlock()

	log := logging.WithExportID(m.logger, job.ID)
	log.Info("processing export", zap.Int("inputs", len(req.VideoPaths)))

	if m.checker != nil {
		if err := m.checker.CheckResources(); err != nil {
			m.finish(job, export.Outcome{Message: fmt.Sprintf("insufficient system resources: %v", err), Err: err})
			return
		}
	}

	metadata, probeErrs := m.ProbeAll(jobCtx, req.VideoPaths)
	for path, err := range probeErrs {
		// Unprobed clips are merged as-is.
		log.Warn("metadata unavailable, clip will not be converted", zap.String("path", path), zap.Error(err))
	}

	m.mu.Lock()
	if len(probeErrs) > 0 {
		job.ProbeErrors = make(map[string]string, len(probeErrs))
		for path, err := range probeErrs {
			job.ProbeErrors[path] = err.Error()
		}
	}
	job.MixedSources = media.HasSourceMismatch(req.VideoPaths, metadata)
	m.notifyLocked(job)
	m.mu.Unlock()

	outcome := m.exporter.Export(jobCtx, req, metadata, func(p export.Progress) {
		m.recordProgress(job, p)
	})
	m.finish(job, outcome)
}

// ProbeAll probes every distinct path. Paths that fail are absent from the
// returned metadata and reported in the error map instead.
func (m *Manager) ProbeAll(ctx context.Context, paths []string) (media.Metadata, map[string]error) {
	metadata := make(media.Metadata, len(paths))
	errs := make(map[string]error)
	for _, path := range paths {
		if _, done := metadata[path]; done {
			continue
		}
		if _, failed := errs[path]; failed {
			continue
		}
		d, err := m.prober.Probe(ctx, path)
		if err != nil {
			errs[path] = err
			continue
		}
		metadata[path] = d
	}
	return metadata, errs
}

func (m *Manager) recordProgress(job *Job, p export.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	progress := p
	job.Progress = &progress
	job.Events = append(job.Events, p)
	switch p.Stage {
	case export.StageConverting:
		job.Status = StatusConverting
	case export.StageMerging:
		job.Status = StatusMerging
	}
	m.notifyLocked(job)
}

func (m *Manager) finish(job *Job, outcome export.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logging.WithExportID(m.logger, job.ID)
	switch {
	case outcome.OK():
		job.Status = StatusCompleted
		job.OutputPath = outcome.OutputPath
		log.Info("export completed", zap.String("output", outcome.OutputPath))
	case outcome.Canceled:
		job.Status = StatusCanceled
		job.Error = "Export was canceled"
		log.Info("export canceled")
	default:
		job.Status = StatusFailed
		job.Error = outcome.Message
		log.Warn("export failed", zap.String("error", outcome.Message))
	}
	job.CompletedAt = time.Now()
	job.cancelFunc = nil
	m.notifyLocked(job)
}

// notifyLocked wakes every subscriber of job. m.mu must be held.
func (m *Manager) notifyLocked(job *Job) {
	close(job.changed)
	job.changed = make(chan struct{})
}

// pruneLoop forgets finished jobs once they are older than JobLifetime. The
// merged output files belong to the user and are never touched.
func (m *Manager) pruneLoop(ctx context.Context) {
	interval := m.cfg.JobLifetime / 4 // Check 4 times per lifetime
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("prune loop shutting down")
			return
		case <-ticker.C:
			m.prune(time.Now())
		}
	}
}

func (m *Manager) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if job.Status.Terminal() && now.Sub(job.CompletedAt) > m.cfg.JobLifetime {
			delete(m.jobs, id)
		}
	}
}

// Submit validates and queues an export.
func (m *Manager) Submit(req export.Request) (*Job, error) {
	if len(req.VideoPaths) == 0 {
		return nil, errors.New("at least one video path is required")
	}
	if req.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}

	job := &Job{
		ID:         fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Status:     StatusQueued,
		VideoPaths: append([]string(nil), req.VideoPaths...),
		OutputDir:  req.OutputDir,
		CreatedAt:  time.Now(),
		changed:    make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snap := snapshot(job)
	m.mu.Unlock()

	select {
	case m.taskQueue <- job:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, errors.New("export queue is full")
	}
	m.logger.Info("export submitted to queue", zap.String("export_id", job.ID))
	return snap, nil
}

func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return snapshot(job), true
}

// List returns all known jobs, oldest first.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		list = append(list, snapshot(job))
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// Subscribe returns the job's current state and a channel closed on its next
// change.
func (m *Manager) Subscribe(id string) (*Job, <-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return snapshot(job), job.changed, nil
}

func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}

	switch {
	case job.Status.Terminal():
		return fmt.Errorf("cannot cancel export in state: %s", job.Status)
	case job.Status == StatusQueued:
		job.Status = StatusCanceled
		job.Error = "Canceled by user while in queue"
		job.CompletedAt = time.Now()
		m.notifyLocked(job)
		m.logger.Info("export marked as canceled in queue", zap.String("export_id", id))
	default:
		if job.cancelFunc == nil {
			return fmt.Errorf("export %s is processing but has no cancellation handle", id)
		}
		job.cancelFunc()
		m.logger.Info("cancellation signal sent to running export", zap.String("export_id", id))
	}
	return nil
}

func snapshot(job *Job) *Job {
	cp := *job
	cp.VideoPaths = append([]string(nil), job.VideoPaths...)
	cp.Events = append([]export.Progress(nil), job.Events...)
	if job.Progress != nil {
		p := *job.Progress
		cp.Progress = &p
	}
	if job.ProbeErrors != nil {
		cp.ProbeErrors = make(map[string]string, len(job.ProbeErrors))
		for k, v := range job.ProbeErrors {
			cp.ProbeErrors[k] = v
		}
	}
	cp.cancelFunc = nil
	cp.changed = nil
	return &cp
}
