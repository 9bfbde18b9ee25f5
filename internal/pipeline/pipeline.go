// Package pipeline implements the per-invoice processing orchestrator.
//
// Every invoice walks the same fixed sequence: OCR, field extraction,
// petty cash classification, project matching. Extraction failures are
// terminal (the invoice is rejected, never retried automatically);
// matching failures are absorbed by the engine's deterministic fallback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/service"
)

// Stage timeouts. OCR is slow on scanned documents; extraction is one
// model call over already-clean text.
const (
	DefaultOCRTimeout        = 60 * time.Second
	DefaultExtractionTimeout = 30 * time.Second
)

// MinOCRTextLength is the minimum usable OCR output in runes. Anything
// shorter is treated as a failed scan.
const MinOCRTextLength = 50

// Pipeline steps reported through progress events.
const (
	totalSteps     = 4
	stepReceived   = 1
	stepOCR        = 2
	stepExtraction = 3
	stepMatching   = 4
)

// Config holds the orchestrator's stage budgets.
type Config struct {
	OCRTimeout        time.Duration
	ExtractionTimeout time.Duration
}

// DefaultConfig returns the default stage budgets.
func DefaultConfig() Config {
	return Config{
		OCRTimeout:        DefaultOCRTimeout,
		ExtractionTimeout: DefaultExtractionTimeout,
	}
}

// Pipeline sequences an invoice through extraction, classification, and
// matching, reporting progress along the way.
type Pipeline struct {
	storage   service.Storage
	ocr       service.OCRClient
	extractor service.FieldExtractor
	matcher   Matcher
	settings  service.Settings
	publisher service.Publisher
	config    Config
}

// New creates a pipeline orchestrator with default stage budgets.
func New(storage service.Storage, ocr service.OCRClient, extractor service.FieldExtractor, matcher Matcher, settings service.Settings, publisher service.Publisher) *Pipeline {
	return NewWithConfig(storage, ocr, extractor, matcher, settings, publisher, DefaultConfig())
}

// NewWithConfig creates a pipeline orchestrator with custom stage budgets.
func NewWithConfig(storage service.Storage, ocr service.OCRClient, extractor service.FieldExtractor, matcher Matcher, settings service.Settings, publisher service.Publisher, config Config) *Pipeline {
	if config.OCRTimeout <= 0 {
		config.OCRTimeout = DefaultOCRTimeout
	}
	if config.ExtractionTimeout <= 0 {
		config.ExtractionTimeout = DefaultExtractionTimeout
	}
	return &Pipeline{
		storage:   storage,
		ocr:       ocr,
		extractor: extractor,
		matcher:   matcher,
		settings:  settings,
		publisher: publisher,
		config:    config,
	}
}

// Submit creates a pending invoice for an uploaded file and schedules
// its processing asynchronously. It returns the new invoice id
// immediately; ingestion never blocks on extraction.
func (p *Pipeline) Submit(ctx context.Context, userID, fileName string) (string, error) {
	invoice := model.Invoice{
		ID:       uuid.NewString(),
		UserID:   userID,
		FileName: fileName,
		Status:   model.StatusPending,
	}

	if err := p.storage.CreateInvoice(ctx, &invoice); err != nil {
		return "", fmt.Errorf("failed to create invoice: %w", err)
	}

	slog.Info("Invoice submitted", "invoice_id", invoice.ID, "file", fileName)

	// Processing outlives the upload request.
	go func() {
		if err := p.Process(context.WithoutCancel(ctx), invoice.ID); err != nil {
			slog.Error("Invoice processing failed", "invoice_id", invoice.ID, "error", err)
		}
	}()

	return invoice.ID, nil
}

// Process runs the full stage sequence for one invoice: extraction,
// then classification and matching. Stages for a single invoice are
// strictly serialized; different invoices process concurrently.
func (p *Pipeline) Process(ctx context.Context, invoiceID string) error {
	if err := p.RunExtraction(ctx, invoiceID); err != nil {
		return err
	}
	return p.ClassifyAndMatch(ctx, invoiceID)
}

// RunExtraction drives the OCR and field-extraction stages under their
// independent timeouts. Any failure rejects the invoice with a
// structured error payload; there is no automatic retry, since repeated
// OCR and model calls on a bad scan only burn money.
func (p *Pipeline) RunExtraction(ctx context.Context, invoiceID string) error {
	invoice, err := p.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	if err := p.storage.UpdateInvoiceStatus(ctx, invoiceID, model.StatusProcessing); err != nil {
		return err
	}
	p.progress(invoice.UserID, invoiceID, stepReceived, "processing", "Invoice received", nil)

	p.progress(invoice.UserID, invoiceID, stepOCR, "processing", "Running OCR", nil)
	rawText, err := p.runOCR(ctx, invoice.FileName)
	if err != nil {
		return p.reject(ctx, invoice, "ocr", err)
	}

	p.progress(invoice.UserID, invoiceID, stepExtraction, "processing", "Extracting invoice fields", nil)
	fields, err := p.runFieldExtraction(ctx, rawText)
	if err != nil {
		return p.reject(ctx, invoice, "extraction", err)
	}

	persist := func() error {
		return p.storage.UpdateInvoiceExtraction(ctx, invoiceID, fields, rawText)
	}
	if err := common.WithRetry(ctx, persist, common.RetryOptions{MaxAttempts: 3}); err != nil {
		return fmt.Errorf("failed to persist extraction: %w", err)
	}

	p.progress(invoice.UserID, invoiceID, stepExtraction, "completed", "Extraction complete", map[string]any{
		"vendor": fields.VendorName,
		"amount": fields.TotalAmount.String(),
	})

	slog.Info("Invoice extracted",
		"invoice_id", invoiceID,
		"vendor", fields.VendorName,
		"amount", fields.TotalAmount.String(),
		"confidence", fields.Confidence)
	return nil
}

func (p *Pipeline) runOCR(ctx context.Context, fileName string) (string, error) {
	ocrCtx, cancel := context.WithTimeout(ctx, p.config.OCRTimeout)
	defer cancel()

	rawText, err := p.ocr.ExtractText(ocrCtx, fileName)
	if err != nil {
		return "", common.NewExtractionError("ocr", err)
	}
	if len([]rune(rawText)) < MinOCRTextLength {
		return "", common.NewExtractionError("ocr", common.ErrEmptyOCRText)
	}
	return rawText, nil
}

func (p *Pipeline) runFieldExtraction(ctx context.Context, rawText string) (model.ExtractedFields, error) {
	extractCtx, cancel := context.WithTimeout(ctx, p.config.ExtractionTimeout)
	defer cancel()

	fields, err := p.extractor.ExtractFields(extractCtx, rawText)
	if err != nil {
		return model.ExtractedFields{}, common.NewExtractionError("extraction", err)
	}
	if fields.TotalAmount == nil {
		return model.ExtractedFields{}, common.NewExtractionError("extraction", common.ErrExtractionEmpty)
	}
	return fields, nil
}

// ClassifyAndMatch applies the petty cash test and, when the invoice is
// above the threshold, runs the matching engine. The threshold is read
// fresh on every call.
func (p *Pipeline) ClassifyAndMatch(ctx context.Context, invoiceID string) error {
	invoice, err := p.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.TotalAmount == nil {
		return fmt.Errorf("invoice %s has no extracted amount", invoiceID)
	}

	threshold, err := p.settings.PettyCashThreshold(ctx)
	if err != nil {
		return fmt.Errorf("failed to read petty cash threshold: %w", err)
	}

	decision := ClassifyPettyCash(*invoice.TotalAmount, threshold)
	if decision.IsPettyCash {
		if err := p.storage.UpdateInvoiceStatus(ctx, invoiceID, model.StatusPettyCashPending); err != nil {
			return err
		}
		p.progress(invoice.UserID, invoiceID, stepMatching, "completed", decision.Reason, map[string]any{
			"pettyCash": true,
			"amount":    decision.Amount.String(),
			"threshold": decision.Threshold.String(),
		})
		slog.Info("Invoice classified as petty cash", "invoice_id", invoiceID, "reason", decision.Reason)
		return nil
	}

	p.progress(invoice.UserID, invoiceID, stepMatching, "processing", decision.Reason, nil)

	matchDecision, err := p.matcher.Run(ctx, *invoice)
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}

	data := map[string]any{
		"autoAssigned": matchDecision.AutoAssigned,
		"candidates":   len(matchDecision.Candidates),
	}
	if best := matchDecision.Best(); best != nil {
		data["topScore"] = best.Score
		data["topProjectId"] = best.Project.ID
		if best.Degraded {
			data["degraded"] = true
		}
	}
	p.progress(invoice.UserID, invoiceID, stepMatching, "completed", matchDecision.Reason, data)
	return nil
}

// reject marks the invoice terminally failed and reports it.
func (p *Pipeline) reject(ctx context.Context, invoice *model.Invoice, step string, cause error) error {
	errorType := "extraction_error"
	if errors.Is(cause, context.DeadlineExceeded) {
		errorType = "timeout"
	} else if errors.Is(cause, common.ErrEmptyOCRText) {
		errorType = "empty_text"
	}

	procErr := model.ProcessingError{
		ErrorType: errorType,
		Message:   cause.Error(),
		Step:      step,
		Timestamp: time.Now().UTC(),
	}

	if err := p.storage.RejectInvoice(ctx, invoice.ID, procErr); err != nil {
		return fmt.Errorf("failed to record rejection: %w (caused by %v)", err, cause)
	}

	p.progress(invoice.UserID, invoice.ID, stepForName(step), "failed", cause.Error(), map[string]any{
		"errorType": errorType,
		"step":      step,
	})

	slog.Warn("Invoice rejected",
		"invoice_id", invoice.ID,
		"step", step,
		"error_type", errorType,
		"error", cause)
	return cause
}

func stepForName(step string) int {
	if step == "ocr" {
		return stepOCR
	}
	return stepExtraction
}

func (p *Pipeline) progress(userID, invoiceID string, step int, status, message string, data map[string]any) {
	p.publisher.SendProgress(userID, model.ProgressEvent{
		TaskID:     invoiceID,
		Step:       step,
		TotalSteps: totalSteps,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	})
}
