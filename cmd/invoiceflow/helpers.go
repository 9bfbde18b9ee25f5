package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/extract"
	"github.com/jdmontoya/invoiceflow/internal/importer"
	"github.com/jdmontoya/invoiceflow/internal/storage"
)

// initStorage opens the database from config and runs migrations.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/invoiceflow/invoiceflow.db"
	}
	dbPath = expandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// createAIClient builds the document AI client from configuration.
func createAIClient() (*extract.Client, error) {
	baseURL := viper.GetString("ai.base_url")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ai.base_url (or INVOICEFLOW_AI_BASE_URL)", common.ErrMissingConfig)
	}

	apiKey := viper.GetString("ai.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("INVOICEFLOW_AI_API_KEY")
	}

	return extract.NewClient(extract.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: viper.GetDuration("ai.timeout"),
	})
}

// importerConfig assembles the automation subprocess settings.
func importerConfig() (importer.Config, error) {
	scriptPath := viper.GetString("rpa.script_path")
	if scriptPath == "" {
		return importer.Config{}, fmt.Errorf("%w: rpa.script_path", common.ErrMissingConfig)
	}

	timeout := viper.GetDuration("rpa.process_timeout")
	if timeout == 0 {
		timeout = importer.DefaultProcessTimeout
	}

	return importer.Config{
		PythonBin:      viper.GetString("rpa.python_bin"),
		ScriptPath:     expandPath(scriptPath),
		ProcessTimeout: timeout,
		BatchSize:      viper.GetInt("rpa.batch_size"),
		BatchDelay:     viper.GetDuration("rpa.batch_delay"),
	}, nil
}

// uploadDir returns the directory where submitted documents are stored.
func uploadDir() (string, error) {
	dir := viper.GetString("server.upload_dir")
	if dir == "" {
		dir = "$HOME/.local/share/invoiceflow/uploads"
	}
	dir = expandPath(dir)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

const pollInterval = 500 * time.Millisecond
