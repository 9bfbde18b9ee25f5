package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/match"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/storage"
)

const sampleInvoiceText = `FACTURA 2025-0042
Constructora Delta SA
CIF B-12345678
Calle Mayor 12, Madrid
Obra civil Torre Norte, certificacion 3
Total: 5.000,00 EUR`

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createPendingInvoice(t *testing.T, db *storage.SQLiteStorage) model.Invoice {
	t.Helper()
	invoice := model.Invoice{ID: uuid.NewString(), UserID: "user-1", FileName: "factura.pdf"}
	require.NoError(t, db.CreateInvoice(context.Background(), &invoice))
	return invoice
}

func extractedFields(amount string) model.ExtractedFields {
	total := decimal.RequireFromString(amount)
	return model.ExtractedFields{
		VendorName:  "Constructora Delta SA",
		VendorTaxID: "B-12345678",
		Concept:     "Obra civil Torre Norte",
		Currency:    "EUR",
		TotalAmount: &total,
		Confidence:  0.93,
	}
}

func TestProcessPettyCashPath(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)
	require.NoError(t, db.SetSetting(ctx, storage.SettingPettyCashThreshold, "100"))

	matcher := &MockMatcher{}
	publisher := &MockPublisher{}
	p := New(db,
		&MockOCR{Text: sampleInvoiceText},
		&MockExtractor{Fields: extractedFields("50.00")},
		matcher, db, publisher)

	invoice := createPendingInvoice(t, db)
	require.NoError(t, p.Process(ctx, invoice.ID))

	stored, err := db.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPettyCashPending, stored.Status)
	assert.Equal(t, model.MatchUnmatched, stored.MatchStatus)

	// The matching engine must never run for petty cash invoices.
	assert.Zero(t, matcher.CallCount())

	events := publisher.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "completed", last.Status)
	assert.Contains(t, last.Message, "50")
	assert.Contains(t, last.Message, "100")
	assert.Equal(t, true, last.Data["pettyCash"])
}

func TestProcessAutoMatchPath(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)
	require.NoError(t, db.SetSetting(ctx, storage.SettingPettyCashThreshold, "100"))
	require.NoError(t, db.SaveProject(ctx, &model.Project{ID: "p1", Name: "Torre Norte", Validated: true}))

	scorer := match.NewMockScorer()
	scorer.Scores["p1"] = 90
	engine := match.New(db, scorer, db)

	publisher := &MockPublisher{}
	p := New(db,
		&MockOCR{Text: sampleInvoiceText},
		&MockExtractor{Fields: extractedFields("5000.00")},
		engine, db, publisher)

	invoice := createPendingInvoice(t, db)
	require.NoError(t, p.Process(ctx, invoice.ID))

	stored, err := db.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExtracted, stored.Status)
	assert.Equal(t, model.MatchAuto, stored.MatchStatus)
	assert.Equal(t, model.MatchedByAI, stored.MatchedBy)
	assert.Equal(t, "p1", stored.MatchedProjectID)
	require.NotNil(t, stored.MatchScore)
	assert.InDelta(t, 90, *stored.MatchScore, 1e-9)

	events := publisher.Events()
	last := events[len(events)-1]
	assert.Equal(t, true, last.Data["autoAssigned"])
}

func TestProcessMatchingFallbackIsNotTerminal(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)
	require.NoError(t, db.SetSetting(ctx, storage.SettingPettyCashThreshold, "100"))
	require.NoError(t, db.SaveProject(ctx, &model.Project{ID: "p1", Name: "Obra civil Torre Norte", Validated: true}))

	// Scorer down for every project: the engine must still produce a
	// terminal match state via the fallback.
	scorer := match.NewMockScorer()
	scorer.Err = errors.New("scoring service unavailable")
	engine := match.New(db, scorer, db)

	publisher := &MockPublisher{}
	p := New(db,
		&MockOCR{Text: sampleInvoiceText},
		&MockExtractor{Fields: extractedFields("5000.00")},
		engine, db, publisher)

	invoice := createPendingInvoice(t, db)
	require.NoError(t, p.Process(ctx, invoice.ID))

	stored, err := db.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusRejected, stored.Status)
	assert.Equal(t, model.MatchPending, stored.MatchStatus)

	last := publisher.Events()[len(publisher.Events())-1]
	assert.Equal(t, true, last.Data["degraded"])
}

func TestRunExtractionRejections(t *testing.T) {
	tests := []struct {
		name          string
		ocr           *MockOCR
		extractor     *MockExtractor
		config        Config
		wantErrorType string
		wantStep      string
	}{
		{
			name:          "ocr timeout",
			ocr:           &MockOCR{Block: true},
			extractor:     &MockExtractor{Fields: extractedFields("10.00")},
			config:        Config{OCRTimeout: 20 * time.Millisecond},
			wantErrorType: "timeout",
			wantStep:      "ocr",
		},
		{
			name:          "ocr output too short",
			ocr:           &MockOCR{Text: "garbled"},
			extractor:     &MockExtractor{Fields: extractedFields("10.00")},
			wantErrorType: "empty_text",
			wantStep:      "ocr",
		},
		{
			name:          "extraction timeout",
			ocr:           &MockOCR{Text: sampleInvoiceText},
			extractor:     &MockExtractor{Block: true},
			config:        Config{ExtractionTimeout: 20 * time.Millisecond},
			wantErrorType: "timeout",
			wantStep:      "extraction",
		},
		{
			name:          "extraction error",
			ocr:           &MockOCR{Text: sampleInvoiceText},
			extractor:     &MockExtractor{Err: errors.New("model returned invalid response")},
			wantErrorType: "extraction_error",
			wantStep:      "extraction",
		},
		{
			name:          "extraction without total amount",
			ocr:           &MockOCR{Text: sampleInvoiceText},
			extractor:     &MockExtractor{Fields: model.ExtractedFields{VendorName: "Delta"}},
			wantErrorType: "extraction_error",
			wantStep:      "extraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := newTestStorage(t)
			matcher := &MockMatcher{}
			publisher := &MockPublisher{}
			p := NewWithConfig(db, tt.ocr, tt.extractor, matcher, db, publisher, tt.config)

			invoice := createPendingInvoice(t, db)
			err := p.Process(ctx, invoice.ID)
			require.Error(t, err)

			stored, getErr := db.GetInvoice(ctx, invoice.ID)
			require.NoError(t, getErr)
			assert.Equal(t, model.StatusRejected, stored.Status)
			require.NotNil(t, stored.ProcessingError)
			assert.Equal(t, tt.wantErrorType, stored.ProcessingError.ErrorType)
			assert.Equal(t, tt.wantStep, stored.ProcessingError.Step)
			assert.NotEmpty(t, stored.ProcessingError.Message)
			assert.False(t, stored.ProcessingError.Timestamp.IsZero())

			// Rejection is terminal: matching never runs.
			assert.Zero(t, matcher.CallCount())

			events := publisher.Events()
			require.NotEmpty(t, events)
			assert.Equal(t, "failed", events[len(events)-1].Status)
		})
	}
}

func TestSubmitReturnsImmediatelyAndProcessesAsync(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)
	require.NoError(t, db.SetSetting(ctx, storage.SettingPettyCashThreshold, "100"))

	p := New(db,
		&MockOCR{Text: sampleInvoiceText},
		&MockExtractor{Fields: extractedFields("50.00")},
		&MockMatcher{}, db, &MockPublisher{})

	id, err := p.Submit(ctx, "user-1", "factura.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		stored, err := db.GetInvoice(ctx, id)
		return err == nil && stored.Status == model.StatusPettyCashPending
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProgressEventsEmittedInStageOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)
	require.NoError(t, db.SetSetting(ctx, storage.SettingPettyCashThreshold, "100"))

	publisher := &MockPublisher{}
	p := New(db,
		&MockOCR{Text: sampleInvoiceText},
		&MockExtractor{Fields: extractedFields("50.00")},
		&MockMatcher{}, db, publisher)

	invoice := createPendingInvoice(t, db)
	require.NoError(t, p.Process(ctx, invoice.ID))

	events := publisher.Events()
	require.GreaterOrEqual(t, len(events), 4)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Step, events[i-1].Step, "steps must not go backwards")
	}
	for _, event := range events {
		assert.Equal(t, invoice.ID, event.TaskID)
		assert.Equal(t, 4, event.TotalSteps)
		assert.False(t, strings.TrimSpace(event.Message) == "")
	}
}
