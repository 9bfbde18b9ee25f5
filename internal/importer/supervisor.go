package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/service"
)

// Supervision defaults.
const (
	DefaultProcessTimeout = 30 * time.Minute
	DefaultGraceWindow    = 60 * time.Second
	DefaultBatchSize      = 3
	DefaultBatchDelay     = 2 * time.Second
)

// Config holds supervisor tunables. Zero values fall back to defaults.
type Config struct {
	PythonBin      string
	ScriptPath     string
	ProcessTimeout time.Duration
	BatchSize      int
	BatchDelay     time.Duration
}

// Supervisor launches and monitors one automation process per import
// run, funneling its output into the run record, the progress hub, and
// ultimately the invoice pipeline.
type Supervisor struct {
	storage    service.Storage
	publisher  service.Publisher
	dispatcher service.Dispatcher
	registry   *Registry
	artifacts  ArtifactSource
	config     Config
}

// New creates a supervisor.
func New(storage service.Storage, publisher service.Publisher, dispatcher service.Dispatcher, registry *Registry, artifacts ArtifactSource, config Config) *Supervisor {
	if config.PythonBin == "" {
		config.PythonBin = "python3"
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = DefaultProcessTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchDelay < 0 {
		config.BatchDelay = DefaultBatchDelay
	}
	if artifacts == nil {
		artifacts = SQLiteArtifacts{}
	}
	return &Supervisor{
		storage:    storage,
		publisher:  publisher,
		dispatcher: dispatcher,
		registry:   registry,
		artifacts:  artifacts,
		config:     config,
	}
}

// StartImport launches an automation run for a configuration. It
// returns the run id immediately; supervision continues in the
// background. A second call for the same configuration while the first
// is active fails with ErrRunActive.
func (s *Supervisor) StartImport(ctx context.Context, userID, configID string, cfg model.ImportConfig) (string, error) {
	if cfg.ERPURL == "" || cfg.ERPUsername == "" || cfg.ERPPassword == "" {
		return "", fmt.Errorf("%w: erpUrl, erpUsername and erpPassword are required", common.ErrInvalidConfig)
	}

	runID := uuid.NewString()
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ProcessTimeout)

	active, err := s.registry.Acquire(configID, runID, userID, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	run := &model.ImportRun{
		ID:       runID,
		ConfigID: configID,
		UserID:   userID,
		Status:   model.RunRunning,
		Stats:    model.ImportStats{CurrentStep: "Initializing"},
	}
	if err := s.storage.CreateImportRun(ctx, run); err != nil {
		s.registry.Release(configID, model.RunFailed)
		cancel()
		return "", fmt.Errorf("failed to create import run: %w", err)
	}

	slog.Info("Starting import run", "run_id", runID, "config_id", configID)
	go s.supervise(procCtx, cancel, active, run, configID, cfg)

	return runID, nil
}

// CancelImport flags a configuration's active run cancelled. The run is
// resolved failed immediately; the process itself is terminated through
// its context.
func (s *Supervisor) CancelImport(ctx context.Context, configID string) error {
	active, ok := s.registry.Get(configID)
	if !ok {
		return common.ErrRunNotFound
	}

	if !s.registry.Cancel(configID) {
		return common.ErrRunNotFound
	}

	run, err := s.storage.GetImportRun(ctx, active.RunID)
	if err != nil {
		return err
	}
	s.finalizeRun(ctx, run, model.RunFailed, "Import cancelled by user")
	s.publisher.SendTaskCancelled(active.UserID, active.RunID, "Import cancelled by user")

	slog.Info("Import run cancelled", "run_id", active.RunID, "config_id", configID)
	return nil
}

// Status returns the live registry entry for a configuration.
func (s *Supervisor) Status(configID string) (*ActiveRun, bool) {
	return s.registry.Get(configID)
}

// supervise runs the child process to completion and resolves the run.
func (s *Supervisor) supervise(ctx context.Context, cancel context.CancelFunc, active *ActiveRun, run *model.ImportRun, configID string, cfg model.ImportConfig) {
	defer cancel()

	outcome := s.runProcess(ctx, active, run, configID, cfg)

	if active.Cancelled() {
		// CancelImport already resolved the run and evicted the entry;
		// any output after termination is ignored.
		return
	}

	switch {
	case outcome.timedOut:
		message := fmt.Sprintf("Process timeout after %d minutes", int(s.config.ProcessTimeout.Minutes()))
		s.finalizeRun(ctx, run, model.RunFailed, message)
		s.publisher.SendTaskTimeout(run.UserID, run.ID, s.config.ProcessTimeout.String())
		s.registry.Release(configID, model.RunFailed)

	case outcome.result != nil && outcome.result.Success:
		run.Stats = outcome.result.Stats
		s.finalizeRun(ctx, run, model.RunCompleted, "")
		s.registry.Release(configID, model.RunCompleted)
		s.dispatchArtifacts(ctx, run, cfg)

	default:
		message := s.failureMessage(outcome)
		slog.Warn("Import run failed",
			"run_id", run.ID,
			"config_id", configID,
			"message", message,
			"exit_error", outcome.exitErr)
		s.finalizeRun(ctx, run, model.RunFailed, message)
		s.publisher.SendTaskComplete(run.UserID, run.ID, false, message, nil)
		s.registry.Release(configID, model.RunFailed)
	}
}

// processOutcome captures everything the supervisor learned from one
// child process execution.
type processOutcome struct {
	result   *ResultLine
	stderr   string
	exitErr  error
	timedOut bool
}

func (s *Supervisor) failureMessage(outcome processOutcome) string {
	if outcome.result != nil && outcome.result.Error != "" {
		return outcome.result.Error
	}
	if message := classifyStderr(outcome.stderr); message != "" {
		return message
	}
	return "Import process failed"
}

// runProcess launches the automation child and consumes its output
// until exit.
func (s *Supervisor) runProcess(ctx context.Context, active *ActiveRun, run *model.ImportRun, configID string, cfg model.ImportConfig) processOutcome {
	var outcome processOutcome

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		outcome.exitErr = fmt.Errorf("failed to marshal config: %w", err)
		return outcome
	}

	cmd := exec.CommandContext(ctx, s.config.PythonBin, s.config.ScriptPath, string(configJSON))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		outcome.exitErr = fmt.Errorf("failed to open stdout pipe: %w", err)
		return outcome
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		outcome.exitErr = fmt.Errorf("failed to open stderr pipe: %w", err)
		return outcome
	}

	if err := cmd.Start(); err != nil {
		outcome.exitErr = &common.ImportProcessError{Message: "Failed to start automation process", Err: err}
		outcome.stderr = err.Error()
		return outcome
	}

	// Stderr is captured separately; it only matters on failure.
	var stderrBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteString("\n")
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if active.Cancelled() {
			break
		}
		line, err := DecodeLine(scanner.Text())
		if err != nil {
			slog.Warn("Dropping malformed automation line", "run_id", run.ID, "error", err)
			continue
		}
		s.handleLine(ctx, run, configID, line, &outcome)
	}

	wg.Wait()
	waitErr := cmd.Wait()

	outcome.stderr = stderrBuf.String()
	if ctx.Err() == context.DeadlineExceeded {
		outcome.timedOut = true
	}
	if waitErr != nil {
		outcome.exitErr = waitErr
	}
	return outcome
}

// handleLine folds one decoded stdout line into the run state.
func (s *Supervisor) handleLine(ctx context.Context, run *model.ImportRun, configID string, line Line, outcome *processOutcome) {
	switch l := line.(type) {
	case ProgressLine:
		run.Stats.Progress = l.Progress
		run.Stats.ProcessedInvoices = l.ProcessedInvoices
		run.Stats.TotalInvoices = l.TotalInvoices
		run.Stats.SuccessfulImports = l.SuccessfulImports
		run.Stats.FailedImports = l.Failed()
		run.Stats.CurrentStep = l.CurrentStep
		s.registry.UpdateStats(configID, run.Stats)
		s.persistRun(ctx, run)
		s.sendRunProgress(run, l.CurrentStep, nil)

	case StatsLine:
		step := run.Stats.CurrentStep
		progress := run.Stats.Progress
		run.Stats = l.Stats
		if run.Stats.CurrentStep == "" {
			run.Stats.CurrentStep = step
		}
		if run.Stats.Progress == 0 {
			run.Stats.Progress = progress
		}
		s.registry.UpdateStats(configID, run.Stats)

	case ResultLine:
		result := l
		outcome.result = &result

	case LogLine:
		if strings.TrimSpace(l.Text) == "" {
			return
		}
		run.Log += l.Text + "\n"
		s.sendRunProgress(run, run.Stats.CurrentStep, map[string]any{"currentLogLine": l.Text})
	}
}

// dispatchArtifacts converts a successful run's artifacts into invoices
// and feeds them to the pipeline in small batches, capping concurrent
// extraction load.
func (s *Supervisor) dispatchArtifacts(ctx context.Context, run *model.ImportRun, cfg model.ImportConfig) {
	artifacts, err := s.artifacts.Load(ctx, cfg)
	if err != nil {
		slog.Error("Failed to load import artifacts", "run_id", run.ID, "error", err)
		s.publisher.SendTaskComplete(run.UserID, run.ID, true,
			"Import completed, but reading downloaded invoices failed", nil)
		return
	}

	created := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		fileName := filepath.Join(cfg.XMLPath, fmt.Sprintf("%s_%s.xml", artifact.DocumentNumber, artifact.Issuer))
		if err := materializeXML(fileName, artifact.XMLContent); err != nil {
			slog.Warn("Failed to materialize invoice XML", "run_id", run.ID, "file", fileName, "error", err)
		}
		invoice := model.Invoice{
			ID:       uuid.NewString(),
			UserID:   run.UserID,
			FileName: fileName,
			Status:   model.StatusProcessing,
		}
		if err := s.storage.CreateInvoice(ctx, &invoice); err != nil {
			slog.Error("Failed to create imported invoice", "run_id", run.ID, "error", err)
			continue
		}
		created = append(created, invoice.ID)
	}

	slog.Info("Import run completed",
		"run_id", run.ID,
		"invoices", len(created),
		"successful_imports", run.Stats.SuccessfulImports)

	s.publisher.SendTaskComplete(run.UserID, run.ID, true, "Import completed", map[string]any{
		"invoices": len(created),
		"stats":    run.Stats,
	})

	for start := 0; start < len(created); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(created) {
			end = len(created)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, invoiceID := range created[start:end] {
			group.Go(func() error {
				if err := s.dispatcher.Process(groupCtx, invoiceID); err != nil {
					slog.Warn("Imported invoice failed processing", "invoice_id", invoiceID, "error", err)
				}
				return nil
			})
		}
		_ = group.Wait()

		if end < len(created) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.BatchDelay):
			}
		}
	}
}

// materializeXML restores an invoice's XML file from the tracking
// database when the automation process did not leave it on disk. The
// stored content is authoritative; an existing file is kept as is.
func materializeXML(fileName, content string) error {
	if content == "" {
		return nil
	}
	if _, err := os.Stat(fileName); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(fileName, []byte(content), 0o644)
}

func (s *Supervisor) finalizeRun(ctx context.Context, run *model.ImportRun, status model.ImportRunStatus, errorMessage string) {
	now := time.Now().UTC()
	run.Status = status
	run.ErrorMessage = errorMessage
	run.CompletedAt = &now
	if errorMessage != "" {
		run.Log += errorMessage + "\n"
	}
	s.persistRun(ctx, run)
}

func (s *Supervisor) persistRun(ctx context.Context, run *model.ImportRun) {
	if err := s.storage.UpdateImportRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("Failed to persist import run", "run_id", run.ID, "error", err)
	}
}

func (s *Supervisor) sendRunProgress(run *model.ImportRun, message string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["stats"] = run.Stats

	s.publisher.SendProgress(run.UserID, model.ProgressEvent{
		TaskID:     run.ID,
		Step:       run.Stats.Progress,
		TotalSteps: 100,
		Status:     "processing",
		Message:    message,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	})
}
