package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/service"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestExtractText(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(filePath, []byte("%PDF-1.4 fake"), 0o600))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ocr", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ocrRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "invoice.pdf", req.FileName)
		assert.NotEmpty(t, req.Document)

		_ = json.NewEncoder(w).Encode(ocrResponse{Text: "FACTURA ELECTRONICA No FE-8841"})
	})

	text, err := client.ExtractText(context.Background(), filePath)
	require.NoError(t, err)
	assert.Equal(t, "FACTURA ELECTRONICA No FE-8841", text)
}

func TestExtractTextMissingFile(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.ExtractText(context.Background(), "/does/not/exist.pdf")
	assert.Error(t, err)
}

func TestExtractFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/extract", r.URL.Path)
		_ = json.NewEncoder(w).Encode(extractResponse{
			VendorName:    "Constructora Andina SAS",
			VendorTaxID:   "900123456-7",
			InvoiceNumber: "FE-8841",
			Currency:      "COP",
			TotalAmount:   "1250.50",
			IssueDate:     "2025-03-10",
			Confidence:    0.93,
		})
	})

	fields, err := client.ExtractFields(context.Background(), "raw text")
	require.NoError(t, err)
	assert.Equal(t, "Constructora Andina SAS", fields.VendorName)
	require.NotNil(t, fields.TotalAmount)
	assert.Equal(t, "1250.5", fields.TotalAmount.String())
	require.NotNil(t, fields.IssueDate)
	assert.Equal(t, "2025-03-10", fields.IssueDate.Format("2006-01-02"))
}

func TestExtractFieldsWithoutAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(extractResponse{VendorName: "Acme"})
	})

	fields, err := client.ExtractFields(context.Background(), "raw text")
	require.NoError(t, err)
	assert.Nil(t, fields.TotalAmount)
	assert.Nil(t, fields.IssueDate)
}

func TestScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/match-score", r.URL.Path)

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Constructora Andina SAS", req.Invoice.VendorName)
		assert.Equal(t, "Torre Norte", req.Project.Name)

		_ = json.NewEncoder(w).Encode(scoreResponse{
			MatchScore:        91.5,
			MatchReason:       "vendor and tax id match",
			OverallConfidence: 0.9,
		})
	})

	resp, err := client.Score(context.Background(), service.ScoreRequest{
		Invoice: model.Invoice{VendorName: "Constructora Andina SAS"},
		Project: model.Project{Name: "Torre Norte"},
	})
	require.NoError(t, err)
	assert.Equal(t, 91.5, resp.MatchScore)
	assert.Equal(t, "vendor and tax id match", resp.MatchReason)
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.ExtractFields(context.Background(), "raw text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
