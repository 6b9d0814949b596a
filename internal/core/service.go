package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// FileDownloader fetches attachment bytes by file key.
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileKey string) ([]byte, error)
}

// SchemaSource fetches the subtable layout of a destination app.
type SchemaSource interface {
	TableSchema(ctx context.Context, appID string) (TableSchema, error)
}

// RecordSink submits records to and queries records of a destination app.
type RecordSink interface {
	// AddRecords submits {app, records} and returns the new record ids.
	AddRecords(ctx context.Context, appID string, records []Record) ([]string, error)

	// PostedFileNames returns which of names already appear in holderCode.
	PostedFileNames(ctx context.Context, appID, holderCode string, names []string) ([]string, error)
}

// RunLedger persists run results beyond the in-memory retention window.
type RunLedger interface {
	RecordRun(ctx context.Context, run *RunResult) error
	GetRun(ctx context.Context, runID string) (*RunResult, error)
}

// Deps are the collaborators of a Service. Ledger is optional.
type Deps struct {
	Registry *mapping.Registry
	Files    FileDownloader
	Schemas  SchemaSource
	Records  RecordSink
	Ledger   RunLedger
}

// ServiceConfig tunes run processing. Zero values fall back to defaults.
type ServiceConfig struct {
	MaxConcurrentRuns int
	MaxWaitTime       time.Duration
	RunTimeout        time.Duration
	ResultTTL         time.Duration
	MaxFileSize       int64 // bytes, 0 for no limit
	MaxParallelFiles  int   // downloads and parses per run, 0 for no limit
}

const (
	defaultRunTimeout = 10 * time.Minute
	defaultResultTTL  = 5 * time.Minute
)

// Service orchestrates submissions: it downloads attachments, reads their
// first worksheet, maps each sheet and submits the resulting records.
type Service struct {
	deps    Deps
	cfg     ServiceConfig
	limiter *RunLimiter

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID        string
	SourceApp string
	StartedAt time.Time
	Cancel    context.CancelFunc
	Done      chan struct{}

	mu     sync.Mutex
	phase  RunPhase
	result *RunResult
}

func (r *activeRun) setPhase(p RunPhase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *activeRun) snapshot() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result != nil {
		return r.result
	}
	return &RunResult{
		RunID:     r.ID,
		SourceApp: r.SourceApp,
		Phase:     r.phase,
		StartedAt: r.StartedAt,
	}
}

func (r *activeRun) finish(result *RunResult) {
	r.mu.Lock()
	r.result = result
	r.phase = result.Phase
	r.mu.Unlock()
}

// NewService creates a Service. Registry, Files and Records are required;
// Schemas is required when any configured app maps table fields.
func NewService(deps Deps, cfg ServiceConfig) (*Service, error) {
	if deps.Registry == nil || deps.Files == nil || deps.Records == nil {
		return nil, errors.New("new service: registry, file downloader and record sink are required")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}

	return &Service{
		deps:    deps,
		cfg:     cfg,
		limiter: NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWaitTime),
		runs:    make(map[string]*activeRun),
	}, nil
}

// Process handles one submission synchronously and returns its result.
// On failure the returned result is still populated and records the error.
func (s *Service) Process(ctx context.Context, ev SubmissionEvent) (*RunResult, error) {
	cfg, err := s.deps.Registry.Get(ev.AppID)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, uuid.New().String(), cfg, ev, nil)
}

// Start begins processing a submission in the background and returns the
// run id immediately. Use Result or Wait to obtain the outcome.
//
// Returns ErrTooManyRuns if the concurrent run limit is reached and no slot
// becomes available within the wait time.
func (s *Service) Start(ctx context.Context, ev SubmissionEvent) (string, error) {
	cfg, err := s.deps.Registry.Get(ev.AppID)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)

	run := &activeRun{
		ID:        runID,
		SourceApp: ev.AppID,
		StartedAt: time.Now(),
		Cancel:    cancel,
		Done:      make(chan struct{}),
		phase:     PhaseStarting,
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in run",
					"run_id", runID,
					"app_id", ev.AppID,
					"panic", r,
				)
				run.finish(&RunResult{
					RunID:     runID,
					SourceApp: ev.AppID,
					Phase:     PhaseFailed,
					Error:     fmt.Sprintf("internal error: %v", r),
					StartedAt: run.StartedAt,
				})
			}
			close(run.Done)
			s.cleanup(runID, s.cfg.ResultTTL)
		}()

		result, _ := s.process(runCtx, runID, cfg, ev, run.setPhase)
		run.finish(result)
	}()

	return runID, nil
}

// Result returns the current state of a run. Runs that are no longer held
// in memory are looked up in the ledger.
func (s *Service) Result(ctx context.Context, runID string) (*RunResult, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return run.snapshot(), nil
	}

	if s.deps.Ledger != nil {
		return s.deps.Ledger.GetRun(ctx, runID)
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Wait blocks until the run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, runID string) (*RunResult, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return s.Result(ctx, runID)
	}

	select {
	case <-run.Done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts a running submission.
func (s *Service) Cancel(runID string) error {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Cancel()
	return nil
}

// WaitForRuns blocks until all background runs complete or ctx is done.
// Used for graceful shutdown.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// Preview maps one workbook for a source app without submitting anything.
// The back-reference holder is left empty.
func (s *Service) Preview(ctx context.Context, sourceAppID, fileName string, data []byte) (*Mapped, error) {
	cfg, err := s.deps.Registry.Get(sourceAppID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoFile
	}
	if err := s.checkSize(fileName, int64(len(data))); err != nil {
		return nil, err
	}

	cells, err := sheet.Read(data)
	if err != nil && len(cells) == 0 {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}

	schema, err := s.tableSchema(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mapped, err := Map(MapInput{
		Rules:           cfg.Rules,
		Cells:           cells,
		Schema:          schema,
		FileName:        fileName,
		FileNameHolder:  cfg.FileNameHolder,
		ReferenceHolder: cfg.ReferenceHolder,
	})
	if err != nil {
		return nil, err
	}
	return &mapped, nil
}

func (s *Service) checkSize(name string, size int64) error {
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, name, size, s.cfg.MaxFileSize)
	}
	return nil
}

// tableSchema fetches the destination subtable layout when the app maps
// any table fields.
func (s *Service) tableSchema(ctx context.Context, cfg *mapping.AppConfig) (TableSchema, error) {
	if len(cfg.TableRules()) == 0 {
		return nil, nil
	}
	if s.deps.Schemas == nil {
		return nil, errors.New("table fields configured but no schema source available")
	}
	schema, err := s.deps.Schemas.TableSchema(ctx, cfg.DestinationApp)
	if err != nil {
		return nil, fmt.Errorf("fetch table schema for app %s: %w", cfg.DestinationApp, err)
	}
	return schema, nil
}

// process runs one submission end to end. onPhase may be nil.
func (s *Service) process(ctx context.Context, runID string, cfg *mapping.AppConfig, ev SubmissionEvent, onPhase func(RunPhase)) (*RunResult, error) {
	start := time.Now()
	logger := logging.WithFields(ctx, "run_id", runID, "app_id", ev.AppID)

	result := &RunResult{
		RunID:          runID,
		SourceApp:      ev.AppID,
		DestinationApp: cfg.DestinationApp,
		Phase:          PhaseStarting,
		StartedAt:      start,
	}
	setPhase := func(p RunPhase) {
		result.Phase = p
		if onPhase != nil {
			onPhase(p)
		}
	}
	finish := func(err error) (*RunResult, error) {
		result.Duration = time.Since(start)
		if err != nil {
			setPhase(PhaseFailed)
			result.Error = err.Error()
			logger.Error("run failed", "error", err, "duration_ms", result.Duration.Milliseconds())
		} else {
			setPhase(PhaseComplete)
			logger.Info("run completed",
				"files", len(result.Files),
				"records_created", result.RecordsCreated,
				"duration_ms", result.Duration.Milliseconds(),
			)
		}
		s.recordRun(ctx, result)
		return result, err
	}

	attachments, err := Attachments(ev, cfg.SourceAttachmentField)
	if err != nil {
		return finish(err)
	}
	result.SourceRecordID = BackReference(ev, cfg.SourceReferenceField)
	logger.Info("run started", "attachments", len(attachments), "source_record", result.SourceRecordID)

	if len(attachments) == 0 {
		return finish(nil)
	}

	// Download every attachment while the table schema is fetched.
	setPhase(PhaseDownloading)
	var schema TableSchema
	files := make([][]byte, len(attachments))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		schema, err = s.tableSchema(gctx, cfg)
		return err
	})
	for i, a := range attachments {
		g.Go(func() error {
			data, err := s.deps.Files.DownloadFile(gctx, a.FileKey)
			if err != nil {
				return fmt.Errorf("download %s: %w", a.Name, err)
			}
			if err := s.checkSize(a.Name, int64(len(data))); err != nil {
				return err
			}
			files[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return finish(err)
	}

	// Read and map every sheet. The schema is known from here on.
	setPhase(PhaseMapping)
	result.Files = make([]FileResult, len(attachments))
	records := make([]Record, len(attachments))

	g, gctx = errgroup.WithContext(ctx)
	if s.cfg.MaxParallelFiles > 0 {
		g.SetLimit(s.cfg.MaxParallelFiles)
	}
	for i, a := range attachments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr := FileResult{FileName: a.Name, FileKey: a.FileKey}

			cells, readErr := sheet.Read(files[i])
			fr.Cells = len(cells)
			if readErr != nil {
				fr.Error = readErr.Error()
				logger.Warn("workbook read failed", "file", a.Name, "cells", len(cells), "error", readErr)
				if len(cells) == 0 {
					result.Files[i] = fr
					return nil
				}
			}

			mapped, err := Map(MapInput{
				Rules:           cfg.Rules,
				Cells:           cells,
				Schema:          schema,
				FileName:        a.Name,
				SourceRecordID:  result.SourceRecordID,
				FileNameHolder:  cfg.FileNameHolder,
				ReferenceHolder: cfg.ReferenceHolder,
			})
			if err != nil {
				return fmt.Errorf("map %s: %w", a.Name, err)
			}
			for _, issue := range mapped.Issues {
				logger.Debug("field issue", "file", a.Name, "field", issue.FieldCode, "kind", issue.Kind, "message", issue.Message)
			}

			fr.Issues = mapped.Issues
			result.Files[i] = fr
			records[i] = mapped.Record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return finish(err)
	}

	var batch []Record
	var owners []int
	for i, rec := range records {
		if rec != nil {
			batch = append(batch, rec)
			owners = append(owners, i)
		}
	}
	if len(batch) == 0 {
		return finish(nil)
	}

	setPhase(PhaseSubmitting)
	ids, err := s.deps.Records.AddRecords(ctx, cfg.DestinationApp, batch)
	result.RecordsCreated = len(ids)
	for j, id := range ids {
		if j < len(owners) {
			result.Files[owners[j]].RecordID = id
		}
	}
	if err != nil {
		return finish(fmt.Errorf("submit %d records to app %s: %w", len(batch), cfg.DestinationApp, err))
	}

	return finish(nil)
}

// recordRun writes the run to the ledger. Ledger failures are logged and
// never fail the run itself.
func (s *Service) recordRun(ctx context.Context, run *RunResult) {
	if s.deps.Ledger == nil {
		return
	}
	// The run context may already be cancelled; the ledger write should
	// still go through.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.deps.Ledger.RecordRun(writeCtx, run); err != nil {
		slog.Error("failed to record run", "run_id", run.RunID, "error", err)
	}
}
