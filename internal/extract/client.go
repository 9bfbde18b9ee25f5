// Package extract provides HTTP clients for the document AI service:
// OCR, structured field extraction, and invoice/project match scoring.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/service"
)

// Config holds the document AI service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the document AI service. It implements
// service.OCRClient, service.FieldExtractor, and service.MatchScorer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a document AI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("document AI base URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Interface checks.
var (
	_ service.OCRClient      = (*Client)(nil)
	_ service.FieldExtractor = (*Client)(nil)
	_ service.MatchScorer    = (*Client)(nil)
)

type ocrRequest struct {
	FileName string `json:"fileName"`
	Document string `json:"document"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

// ExtractText uploads a document and returns its raw OCR text.
func (c *Client) ExtractText(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	req := ocrRequest{
		FileName: filepath.Base(filePath),
		Document: base64.StdEncoding.EncodeToString(data),
	}

	var resp ocrResponse
	if err := c.post(ctx, "/v1/ocr", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	VendorName    string  `json:"vendorName"`
	VendorAddress string  `json:"vendorAddress"`
	VendorTaxID   string  `json:"vendorTaxId"`
	InvoiceNumber string  `json:"invoiceNumber"`
	Concept       string  `json:"concept"`
	Currency      string  `json:"currency"`
	TotalAmount   string  `json:"totalAmount"`
	IssueDate     string  `json:"issueDate"`
	Confidence    float64 `json:"confidence"`
}

// ExtractFields turns raw OCR text into structured invoice fields.
func (c *Client) ExtractFields(ctx context.Context, rawText string) (model.ExtractedFields, error) {
	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", extractRequest{Text: rawText}, &resp); err != nil {
		return model.ExtractedFields{}, err
	}

	fields := model.ExtractedFields{
		VendorName:    resp.VendorName,
		VendorAddress: resp.VendorAddress,
		VendorTaxID:   resp.VendorTaxID,
		InvoiceNumber: resp.InvoiceNumber,
		Concept:       resp.Concept,
		Currency:      resp.Currency,
		Confidence:    resp.Confidence,
	}

	if resp.TotalAmount != "" {
		amount, err := decimal.NewFromString(resp.TotalAmount)
		if err != nil {
			return model.ExtractedFields{}, fmt.Errorf("invalid total amount %q: %w", resp.TotalAmount, err)
		}
		fields.TotalAmount = &amount
	}
	if resp.IssueDate != "" {
		issued, err := time.Parse(time.RFC3339, resp.IssueDate)
		if err != nil {
			// Some documents only carry a date.
			issued, err = time.Parse("2006-01-02", resp.IssueDate)
		}
		if err != nil {
			return model.ExtractedFields{}, fmt.Errorf("invalid issue date %q: %w", resp.IssueDate, err)
		}
		fields.IssueDate = &issued
	}

	return fields, nil
}

type scoreRequest struct {
	Invoice scoreInvoice `json:"invoice"`
	Project scoreProject `json:"project"`
}

type scoreInvoice struct {
	VendorName    string `json:"vendorName"`
	VendorAddress string `json:"vendorAddress"`
	VendorTaxID   string `json:"vendorTaxId"`
	Concept       string `json:"concept"`
}

type scoreProject struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     string `json:"address"`
	City        string `json:"city"`
	TaxID       string `json:"taxId"`
}

type scoreResponse struct {
	MatchScore        float64 `json:"matchScore"`
	MatchReason       string  `json:"matchReason"`
	ProjectNameMatch  float64 `json:"projectNameMatch"`
	AddressMatch      float64 `json:"addressMatch"`
	TaxIDMatch        float64 `json:"taxIdMatch"`
	CityMatch         float64 `json:"cityMatch"`
	OverallConfidence float64 `json:"overallConfidence"`
}

// Score evaluates one invoice/project pair.
func (c *Client) Score(ctx context.Context, req service.ScoreRequest) (service.ScoreResponse, error) {
	body := scoreRequest{
		Invoice: scoreInvoice{
			VendorName:    req.Invoice.VendorName,
			VendorAddress: req.Invoice.VendorAddress,
			VendorTaxID:   req.Invoice.VendorTaxID,
			Concept:       req.Invoice.Concept,
		},
		Project: scoreProject{
			Name:        req.Project.Name,
			Description: req.Project.Description,
			Address:     req.Project.Address,
			City:        req.Project.City,
			TaxID:       req.Project.TaxID,
		},
	}

	var resp scoreResponse
	if err := c.post(ctx, "/v1/match-score", body, &resp); err != nil {
		return service.ScoreResponse{}, err
	}

	return service.ScoreResponse{
		MatchScore:        resp.MatchScore,
		MatchReason:       resp.MatchReason,
		ProjectNameMatch:  resp.ProjectNameMatch,
		AddressMatch:      resp.AddressMatch,
		TaxIDMatch:        resp.TaxIDMatch,
		CityMatch:         resp.CityMatch,
		OverallConfidence: resp.OverallConfidence,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document AI error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
