package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

// CreateImportRun persists a new import run.
func (s *SQLiteStorage) CreateImportRun(ctx context.Context, run *model.ImportRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if err := validateString(run.ID, "run.ID"); err != nil {
		return err
	}
	if err := validateString(run.ConfigID, "run.ConfigID"); err != nil {
		return err
	}

	if run.Status == "" {
		run.Status = model.RunPending
	}

	query := `
		INSERT INTO import_runs (id, config_id, user_id, status, current_step)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query,
		run.ID, run.ConfigID, run.UserID, run.Status, run.Stats.CurrentStep,
	); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("import run %s: %w", run.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert import run: %w", err)
	}
	return nil
}

// GetImportRun returns one import run by id.
func (s *SQLiteStorage) GetImportRun(ctx context.Context, id string) (*model.ImportRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, config_id, user_id, status,
			total_invoices, processed_invoices, successful_imports, failed_imports,
			current_step, progress, log, error_message, started_at, completed_at
		FROM import_runs
		WHERE id = ?`

	var run model.ImportRun
	var currentStep, log, errorMessage sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.ConfigID, &run.UserID, &run.Status,
		&run.Stats.TotalInvoices, &run.Stats.ProcessedInvoices,
		&run.Stats.SuccessfulImports, &run.Stats.FailedImports,
		&currentStep, &run.Stats.Progress, &log, &errorMessage,
		&run.StartedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("import run %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query import run: %w", err)
	}

	run.Stats.CurrentStep = currentStep.String
	run.Log = log.String
	run.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

// UpdateImportRun writes the run's current status, counters, and log.
func (s *SQLiteStorage) UpdateImportRun(ctx context.Context, run *model.ImportRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if err := validateString(run.ID, "run.ID"); err != nil {
		return err
	}

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	query := `
		UPDATE import_runs SET
			status = ?,
			total_invoices = ?, processed_invoices = ?,
			successful_imports = ?, failed_imports = ?,
			current_step = ?, progress = ?, log = ?, error_message = ?,
			completed_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Stats.TotalInvoices, run.Stats.ProcessedInvoices,
		run.Stats.SuccessfulImports, run.Stats.FailedImports,
		run.Stats.CurrentStep, run.Stats.Progress, run.Log, run.ErrorMessage,
		completedAt,
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("import run %s: %w", run.ID, common.ErrNotFound)
	}
	return nil
}
