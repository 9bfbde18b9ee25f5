// Package service defines the interfaces for all application services.
package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Invoice operations
	CreateInvoice(ctx context.Context, invoice *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, userID string) ([]model.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id string, status model.InvoiceStatus) error
	UpdateInvoiceExtraction(ctx context.Context, id string, fields model.ExtractedFields, rawText string) error
	UpdateInvoiceMatch(ctx context.Context, id string, projectID string, score float64, status model.MatchStatus, matchedBy model.MatchedBy) error
	ClearInvoiceMatch(ctx context.Context, id string, status model.MatchStatus) error
	RejectInvoice(ctx context.Context, id string, procErr model.ProcessingError) error

	// Project operations (read-only to the pipeline)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetValidatedProjects(ctx context.Context) ([]model.Project, error)
	SaveProject(ctx context.Context, project *model.Project) error

	// Import run operations
	CreateImportRun(ctx context.Context, run *model.ImportRun) error
	GetImportRun(ctx context.Context, id string) (*model.ImportRun, error)
	UpdateImportRun(ctx context.Context, run *model.ImportRun) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// OCRClient converts an uploaded document into raw text.
type OCRClient interface {
	ExtractText(ctx context.Context, filePath string) (string, error)
}

// FieldExtractor turns raw OCR text into structured invoice fields.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, rawText string) (model.ExtractedFields, error)
}

// ScoreRequest carries one invoice/project pair to the scoring collaborator.
type ScoreRequest struct {
	Invoice model.Invoice
	Project model.Project
}

// ScoreResponse is the scoring collaborator's verdict on one pair.
type ScoreResponse struct {
	MatchScore        float64
	MatchReason       string
	ProjectNameMatch  float64
	AddressMatch      float64
	TaxIDMatch        float64
	CityMatch         float64
	OverallConfidence float64
}

// MatchScorer is the primary (probabilistic) scoring collaborator.
// Pairs are evaluated independently, one call per candidate project.
type MatchScorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error)
}

// Publisher delivers best-effort progress notifications to a user's
// live subscribers. Implementations must never block the caller on a
// slow or broken subscriber.
type Publisher interface {
	SendProgress(userID string, event model.ProgressEvent)
	SendTaskComplete(userID, taskID string, success bool, message string, result map[string]any)
	SendTaskCancelled(userID, taskID, reason string)
	SendTaskTimeout(userID, taskID string, duration string)
}

// Dispatcher is the pipeline entry point the import supervisor hands
// freshly created invoices to.
type Dispatcher interface {
	Process(ctx context.Context, invoiceID string) error
}

// Settings exposes the operator-tunable decision thresholds. Values are
// read fresh on every decision; last write wins.
type Settings interface {
	PettyCashThreshold(ctx context.Context) (decimal.Decimal, error)
	AutoMatchThreshold(ctx context.Context) (float64, error)
}
