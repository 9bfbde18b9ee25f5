// Package importer supervises the external invoice import automation.
//
// One child process runs per import configuration. It reports through a
// newline-delimited stdout protocol (PROGRESS/STATS/RESULT tagged JSON
// plus free-text log lines) that the supervisor decodes, persists, and
// rebroadcasts as progress events.
package importer

import (
	"encoding/json"
	"strings"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

// Tagged line prefixes emitted by the automation process.
const (
	prefixProgress = "PROGRESS:"
	prefixStats    = "STATS:"
	prefixResult   = "RESULT:"
)

// Line is one decoded stdout line from the automation process.
type Line interface{ line() }

// ProgressLine carries partial counters plus the current step and
// percentage.
type ProgressLine struct {
	Progress          int    `json:"progress"`
	ProcessedInvoices int    `json:"processed_invoices"`
	TotalInvoices     int    `json:"total_invoices"`
	SuccessfulImports int    `json:"successful_imports"`
	FailedImports     int    `json:"failed_imports"`
	FailedInvoices    int    `json:"failed_invoices"`
	CurrentStep       string `json:"current_step"`
}

func (ProgressLine) line() {}

// Failed merges the two counter spellings the process has used.
func (l ProgressLine) Failed() int {
	if l.FailedImports > 0 {
		return l.FailedImports
	}
	return l.FailedInvoices
}

// StatsLine carries counters only.
type StatsLine struct {
	Stats model.ImportStats
}

func (StatsLine) line() {}

// ResultLine is the terminal payload.
type ResultLine struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Stats   model.ImportStats `json:"stats"`
}

func (ResultLine) line() {}

// LogLine is any untagged output, kept verbatim for live display and
// the run's accumulated log.
type LogLine struct {
	Text string
}

func (LogLine) line() {}

// DecodeLine classifies one stdout line. Tagged lines with unparseable
// JSON return a ProtocolError; callers log and drop those. The tag
// prefixes tolerate whitespace after the colon, which the original
// process emits ("RESULT: {...}").
func DecodeLine(raw string) (Line, error) {
	trimmed := strings.TrimRight(raw, "\r\n")

	switch {
	case strings.HasPrefix(trimmed, prefixProgress):
		var progress ProgressLine
		if err := decodePayload(trimmed, prefixProgress, &progress); err != nil {
			return nil, err
		}
		return progress, nil

	case strings.HasPrefix(trimmed, prefixStats):
		var stats model.ImportStats
		if err := decodePayload(trimmed, prefixStats, &stats); err != nil {
			return nil, err
		}
		return StatsLine{Stats: stats}, nil

	case strings.HasPrefix(trimmed, prefixResult):
		var result ResultLine
		if err := decodePayload(trimmed, prefixResult, &result); err != nil {
			return nil, err
		}
		return result, nil

	default:
		return LogLine{Text: trimmed}, nil
	}
}

func decodePayload(line, prefix string, v any) error {
	payload := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return &common.ProtocolError{Raw: line, Err: err}
	}
	return nil
}
