// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus tracks an invoice through the processing pipeline.
type InvoiceStatus string

// Invoice status constants.
const (
	StatusPending          InvoiceStatus = "pending"
	StatusProcessing       InvoiceStatus = "processing"
	StatusExtracted        InvoiceStatus = "extracted"
	StatusPettyCashPending InvoiceStatus = "petty_cash_pending"
	StatusApproved         InvoiceStatus = "approved"
	StatusRejected         InvoiceStatus = "rejected"
	StatusPaid             InvoiceStatus = "paid"
)

// MatchStatus indicates how (or whether) an invoice was assigned to a project.
type MatchStatus string

// Match status constants.
const (
	MatchUnmatched MatchStatus = "unmatched"
	MatchPending   MatchStatus = "pending"
	MatchAuto      MatchStatus = "auto_matched"
	MatchManual    MatchStatus = "manual_match"
	MatchNone      MatchStatus = "no_match"
)

// MatchedBy records whether a match decision came from the system or a human.
type MatchedBy string

// Matcher constants.
const (
	MatchedByAI   MatchedBy = "ai"
	MatchedByUser MatchedBy = "user"
)

// Invoice represents a single invoice document moving through the pipeline.
type Invoice struct {
	ID        string
	UserID    string
	FileName  string
	Status    InvoiceStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// Extracted fields, populated after the extraction stage.
	VendorName    string
	VendorAddress string
	VendorTaxID   string
	InvoiceNumber string
	Concept       string
	Currency      string
	TotalAmount   *decimal.Decimal
	IssueDate     *time.Time
	Confidence    float64
	RawText       string

	// Matching outcome.
	MatchedProjectID string
	MatchScore       *float64
	MatchStatus      MatchStatus
	MatchedBy        MatchedBy

	// Populated when the pipeline rejects the invoice.
	ProcessingError *ProcessingError
}

// ProcessingError is the structured payload stored alongside a rejected invoice.
type ProcessingError struct {
	ErrorType string    `json:"errorType"`
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// ExtractedFields is the output of the AI extraction collaborator.
type ExtractedFields struct {
	VendorName    string
	VendorAddress string
	VendorTaxID   string
	InvoiceNumber string
	Concept       string
	Currency      string
	TotalAmount   *decimal.Decimal
	IssueDate     *time.Time
	Confidence    float64
}
