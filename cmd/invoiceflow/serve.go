package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdmontoya/invoiceflow/internal/broadcast"
	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/importer"
	"github.com/jdmontoya/invoiceflow/internal/match"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/pipeline"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the invoice processing server",
		Long: `Start the HTTP server: WebSocket progress endpoint, invoice upload
endpoint wired into the extraction pipeline, and import supervision
endpoints for the ERP automation.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", ":8080", "listen address")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

type server struct {
	pipeline   *pipeline.Pipeline
	engine     *match.Engine
	supervisor *importer.Supervisor
	invoices   invoiceReader
	uploads    string
}

type invoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, userID string) ([]model.Invoice, error)
	GetImportRun(ctx context.Context, id string) (*model.ImportRun, error)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	aiClient, err := createAIClient()
	if err != nil {
		return err
	}

	uploads, err := uploadDir()
	if err != nil {
		return err
	}

	hub := broadcast.NewHub()
	engine := match.New(store, aiClient, store)
	pipe := pipeline.New(store, aiClient, aiClient, engine, store, hub)

	var supervisor *importer.Supervisor
	if impCfg, err := importerConfig(); err != nil {
		slog.Warn("Import automation disabled", "reason", err)
	} else {
		registry := importer.NewRegistry(importer.DefaultGraceWindow)
		supervisor = importer.New(store, hub, pipe, registry, nil, impCfg)
	}

	srv := &server{
		pipeline:   pipe,
		engine:     engine,
		supervisor: supervisor,
		invoices:   store,
		uploads:    uploads,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", broadcast.NewHandler(hub))
	mux.HandleFunc("POST /api/invoices", srv.handleUpload)
	mux.HandleFunc("GET /api/invoices", srv.handleListInvoices)
	mux.HandleFunc("GET /api/invoices/{id}", srv.handleGetInvoice)
	mux.HandleFunc("POST /api/invoices/{id}/match", srv.handleManualMatch)
	mux.HandleFunc("POST /api/invoices/{id}/no-match", srv.handleNoMatch)
	mux.HandleFunc("POST /api/imports/start", srv.handleImportStart)
	mux.HandleFunc("POST /api/imports/cancel", srv.handleImportCancel)
	mux.HandleFunc("GET /api/imports/{id}", srv.handleImportStatus)

	listen := viper.GetString("server.listen")
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// handleUpload accepts a multipart document upload and schedules it for
// extraction. Responds 202 with the new invoice id.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		httpError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	// Store under a fresh name so colliding uploads never overwrite.
	name := uuid.NewString() + "_" + filepath.Base(header.Filename)
	destPath := filepath.Join(s.uploads, name)
	dest, err := os.Create(destPath)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		_ = dest.Close()
		httpError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	_ = dest.Close()

	invoiceID, err := s.pipeline.Submit(r.Context(), userID, destPath)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"invoiceId": invoiceID})
}

func (s *server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		httpError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	invoices, err := s.invoices.ListInvoices(r.Context(), userID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.invoices.GetInvoice(r.Context(), r.PathValue("id"))
	if errors.Is(err, common.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleManualMatch records a reviewer's project assignment.
func (s *server) handleManualMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		httpError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	err := s.engine.AssignProject(r.Context(), r.PathValue("id"), req.ProjectID)
	if errors.Is(err, common.ErrNotFound) {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "matched"})
}

// handleNoMatch records the reviewer's decision that no project applies.
func (s *server) handleNoMatch(w http.ResponseWriter, r *http.Request) {
	err := s.engine.MarkNoMatch(r.Context(), r.PathValue("id"))
	if errors.Is(err, common.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "no_match"})
}

type importStartRequest struct {
	ConfigID string             `json:"configId"`
	UserID   string             `json:"userId"`
	Config   model.ImportConfig `json:"config"`
}

func (s *server) handleImportStart(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		httpError(w, http.StatusServiceUnavailable, "import automation is not configured")
		return
	}

	var req importStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConfigID == "" || req.UserID == "" {
		httpError(w, http.StatusBadRequest, "configId and userId are required")
		return
	}

	runID, err := s.supervisor.StartImport(r.Context(), req.UserID, req.ConfigID, req.Config)
	if errors.Is(err, common.ErrRunActive) {
		httpError(w, http.StatusConflict, "an import is already running for this configuration")
		return
	}
	if errors.Is(err, common.ErrInvalidConfig) {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *server) handleImportCancel(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		httpError(w, http.StatusServiceUnavailable, "import automation is not configured")
		return
	}

	var req struct {
		ConfigID string `json:"configId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigID == "" {
		httpError(w, http.StatusBadRequest, "configId is required")
		return
	}

	err := s.supervisor.CancelImport(r.Context(), req.ConfigID)
	if errors.Is(err, common.ErrRunNotFound) {
		httpError(w, http.StatusNotFound, "no active import for this configuration")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.invoices.GetImportRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, common.ErrNotFound) {
		httpError(w, http.StatusNotFound, "import run not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
