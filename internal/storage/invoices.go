package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

const invoiceColumns = `id, user_id, file_name, status,
	vendor_name, vendor_address, vendor_tax_id, invoice_number, concept,
	currency, total_amount, issue_date, confidence, raw_text,
	matched_project_id, match_score, match_status, matched_by,
	processing_error, created_at, updated_at`

// CreateInvoice persists a new invoice.
func (s *SQLiteStorage) CreateInvoice(ctx context.Context, invoice *model.Invoice) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if invoice == nil {
		return fmt.Errorf("%w: invoice", ErrNilParameter)
	}
	if err := validateString(invoice.ID, "invoice.ID"); err != nil {
		return err
	}

	if invoice.Status == "" {
		invoice.Status = model.StatusPending
	}
	if invoice.MatchStatus == "" {
		invoice.MatchStatus = model.MatchUnmatched
	}

	query := `
		INSERT INTO invoices (id, user_id, file_name, status, match_status)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query,
		invoice.ID, invoice.UserID, invoice.FileName, invoice.Status, invoice.MatchStatus,
	); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("invoice %s: %w", invoice.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	slog.Debug("created invoice", "id", invoice.ID, "status", invoice.Status)
	return nil
}

// GetInvoice returns one invoice by id.
func (s *SQLiteStorage) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	invoice, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice: %w", err)
	}
	return invoice, nil
}

// ListInvoices returns all invoices owned by a user, newest first.
func (s *SQLiteStorage) ListInvoices(ctx context.Context, userID string) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *invoice)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

// UpdateInvoiceStatus moves an invoice to a new pipeline status.
func (s *SQLiteStorage) UpdateInvoiceStatus(ctx context.Context, id string, status model.InvoiceStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return requireRow(result, id)
}

// UpdateInvoiceExtraction writes the extracted fields and marks the
// invoice extracted.
func (s *SQLiteStorage) UpdateInvoiceExtraction(ctx context.Context, id string, fields model.ExtractedFields, rawText string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	var amount any
	if fields.TotalAmount != nil {
		amount = fields.TotalAmount.String()
	}
	var issueDate any
	if fields.IssueDate != nil {
		issueDate = fields.IssueDate.UTC()
	}

	query := `
		UPDATE invoices SET
			status = ?,
			vendor_name = ?, vendor_address = ?, vendor_tax_id = ?,
			invoice_number = ?, concept = ?, currency = ?,
			total_amount = ?, issue_date = ?, confidence = ?, raw_text = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		model.StatusExtracted,
		fields.VendorName, fields.VendorAddress, fields.VendorTaxID,
		fields.InvoiceNumber, fields.Concept, fields.Currency,
		amount, issueDate, fields.Confidence, rawText,
		id)
	if err != nil {
		return fmt.Errorf("failed to update invoice extraction: %w", err)
	}
	return requireRow(result, id)
}

// UpdateInvoiceMatch records a project assignment.
func (s *SQLiteStorage) UpdateInvoiceMatch(ctx context.Context, id string, projectID string, score float64, status model.MatchStatus, matchedBy model.MatchedBy) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	query := `
		UPDATE invoices SET
			matched_project_id = ?, match_score = ?, match_status = ?, matched_by = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, projectID, score, status, matchedBy, id)
	if err != nil {
		return fmt.Errorf("failed to update invoice match: %w", err)
	}
	return requireRow(result, id)
}

// ClearInvoiceMatch removes any project assignment, leaving the given
// match status (pending review or explicit no-match). Idempotent.
func (s *SQLiteStorage) ClearInvoiceMatch(ctx context.Context, id string, status model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	query := `
		UPDATE invoices SET
			matched_project_id = NULL, match_score = NULL, match_status = ?, matched_by = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	matchedBy := any(nil)
	if status == model.MatchNone {
		matchedBy = string(model.MatchedByUser)
	}

	result, err := s.db.ExecContext(ctx, query, status, matchedBy, id)
	if err != nil {
		return fmt.Errorf("failed to clear invoice match: %w", err)
	}
	return requireRow(result, id)
}

// RejectInvoice marks an invoice rejected with a structured error payload.
func (s *SQLiteStorage) RejectInvoice(ctx context.Context, id string, procErr model.ProcessingError) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	payload, err := json.Marshal(procErr)
	if err != nil {
		return fmt.Errorf("failed to marshal processing error: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = ?, processing_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		model.StatusRejected, string(payload), id)
	if err != nil {
		return fmt.Errorf("failed to reject invoice: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var inv model.Invoice
	var fileName, vendorName, vendorAddress, vendorTaxID sql.NullString
	var invoiceNumber, concept, currency, totalAmount sql.NullString
	var matchedProjectID, matchedBy, procErr, rawText sql.NullString
	var issueDate sql.NullTime
	var matchScore sql.NullFloat64

	err := row.Scan(
		&inv.ID, &inv.UserID, &fileName, &inv.Status,
		&vendorName, &vendorAddress, &vendorTaxID, &invoiceNumber, &concept,
		&currency, &totalAmount, &issueDate, &inv.Confidence, &rawText,
		&matchedProjectID, &matchScore, &inv.MatchStatus, &matchedBy,
		&procErr, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.FileName = fileName.String
	inv.VendorName = vendorName.String
	inv.VendorAddress = vendorAddress.String
	inv.VendorTaxID = vendorTaxID.String
	inv.InvoiceNumber = invoiceNumber.String
	inv.Concept = concept.String
	inv.Currency = currency.String
	inv.RawText = rawText.String
	inv.MatchedProjectID = matchedProjectID.String
	inv.MatchedBy = model.MatchedBy(matchedBy.String)

	if totalAmount.Valid && totalAmount.String != "" {
		amount, err := decimal.NewFromString(totalAmount.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", totalAmount.String, err)
		}
		inv.TotalAmount = &amount
	}
	if issueDate.Valid {
		t := issueDate.Time
		inv.IssueDate = &t
	}
	if matchScore.Valid {
		score := matchScore.Float64
		inv.MatchScore = &score
	}
	if procErr.Valid && procErr.String != "" {
		var pe model.ProcessingError
		if err := json.Unmarshal([]byte(procErr.String), &pe); err == nil {
			inv.ProcessingError = &pe
		}
	}

	return &inv, nil
}
