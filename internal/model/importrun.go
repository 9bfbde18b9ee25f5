package model

import "time"

// ImportRunStatus tracks one execution of the external import automation.
type ImportRunStatus string

// Import run status constants.
const (
	RunPending   ImportRunStatus = "pending"
	RunRunning   ImportRunStatus = "running"
	RunCompleted ImportRunStatus = "completed"
	RunFailed    ImportRunStatus = "failed"
)

// ImportStats mirrors the counters reported by the automation subprocess.
type ImportStats struct {
	TotalInvoices     int    `json:"total_invoices"`
	ProcessedInvoices int    `json:"processed_invoices"`
	SuccessfulImports int    `json:"successful_imports"`
	FailedImports     int    `json:"failed_imports"`
	CurrentStep       string `json:"current_step"`
	Progress          int    `json:"progress"`
}

// ImportRun is one supervised execution of the automation subprocess for
// a given import configuration.
type ImportRun struct {
	ID           string
	ConfigID     string
	UserID       string
	Status       ImportRunStatus
	Stats        ImportStats
	Log          string
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// ImportConfig is the JSON blob handed to the automation subprocess as
// its single command-line argument.
type ImportConfig struct {
	ERPURL       string `json:"erpUrl"`
	ERPUsername  string `json:"erpUsername"`
	ERPPassword  string `json:"erpPassword"`
	DownloadPath string `json:"downloadPath"`
	XMLPath      string `json:"xmlPath"`
	Headless     bool   `json:"headless"`
}

// ImportedInvoice is one artifact produced by a successful run, ready to
// be converted into an Invoice and handed to the pipeline.
type ImportedInvoice struct {
	DocumentNumber string
	Issuer         string
	TotalValue     string
	XMLContent     string
}
