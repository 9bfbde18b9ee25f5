package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdmontoya/invoiceflow/internal/broadcast"
	"github.com/jdmontoya/invoiceflow/internal/importer"
	"github.com/jdmontoya/invoiceflow/internal/match"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/pipeline"
	"github.com/jdmontoya/invoiceflow/internal/storage"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Manage ERP invoice imports",
		Long:  `Start, cancel, and inspect automated invoice imports from the ERP.`,
	}

	cmd.AddCommand(importStartCmd())
	cmd.AddCommand(importCancelCmd())
	cmd.AddCommand(importStatusCmd())

	return cmd
}

func importStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run an ERP import and wait for it to finish",
		Long: `Launch the automation subprocess in the foreground. The command blocks
until the run finishes; interrupting it cancels the run.`,
		RunE: runImportStart,
	}

	cmd.Flags().String("config-file", "", "JSON file with the ERP connection settings (required)")
	cmd.Flags().String("config-id", "default", "import configuration id")
	cmd.Flags().String("user", "cli", "owner of the imported invoices")
	cmd.Flags().Bool("follow", true, "render a live progress bar")
	_ = cmd.MarkFlagRequired("config-file")

	return cmd
}

func runImportStart(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	configFile, _ := cmd.Flags().GetString("config-file")
	configID, _ := cmd.Flags().GetString("config-id")
	userID, _ := cmd.Flags().GetString("user")
	follow, _ := cmd.Flags().GetBool("follow")

	data, err := os.ReadFile(expandPath(configFile))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var erpCfg model.ImportConfig
	if err := json.Unmarshal(data, &erpCfg); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	impCfg, err := importerConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	aiClient, err := createAIClient()
	if err != nil {
		return err
	}

	hub := broadcast.NewHub()
	engine := match.New(store, aiClient, store)
	pipe := pipeline.New(store, aiClient, aiClient, engine, store, hub)
	registry := importer.NewRegistry(importer.DefaultGraceWindow)
	supervisor := importer.New(store, hub, pipe, registry, nil, impCfg)

	runID, err := supervisor.StartImport(ctx, userID, configID, erpCfg)
	if err != nil {
		return err
	}
	fmt.Printf("Started import run %s\n", runID)

	// An interrupt cancels the run instead of abandoning the child.
	go func() {
		<-ctx.Done()
		_ = supervisor.CancelImport(context.Background(), configID)
	}()

	run, err := followRun(ctx, store, runID, follow)
	if err != nil {
		return err
	}

	printRun(run)
	if run.Status == model.RunFailed {
		return fmt.Errorf("import failed: %s", run.ErrorMessage)
	}
	return nil
}

// followRun polls the run until it reaches a terminal status.
func followRun(ctx context.Context, store *storage.SQLiteStorage, runID string, follow bool) (*model.ImportRun, error) {
	var bar *progressbar.ProgressBar
	if follow {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("Importing..."),
		)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		// Keep polling after an interrupt so the cancelled run's final
		// state is still reported.
		<-ticker.C

		run, err := store.GetImportRun(context.WithoutCancel(ctx), runID)
		if err != nil {
			return nil, err
		}

		if bar != nil {
			_ = bar.Set(run.Stats.Progress)
			bar.Describe(run.Stats.CurrentStep)
		}

		if run.Status == model.RunCompleted || run.Status == model.RunFailed {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			return run, nil
		}
	}
}

func printRun(run *model.ImportRun) {
	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	fmt.Printf("  invoices: %d total, %d processed, %d imported, %d failed\n",
		run.Stats.TotalInvoices, run.Stats.ProcessedInvoices,
		run.Stats.SuccessfulImports, run.Stats.FailedImports)
	if run.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", run.ErrorMessage)
	}
}

func importCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a running import on the server",
		RunE:  runImportCancel,
	}

	cmd.Flags().String("config-id", "default", "import configuration id")

	return cmd
}

func runImportCancel(cmd *cobra.Command, _ []string) error {
	configID, _ := cmd.Flags().GetString("config-id")

	serverURL := viper.GetString("server.url")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	body, _ := json.Marshal(map[string]string{"configId": configID})
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		serverURL+"/api/imports/cancel", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Println("Import cancelled")
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("no active import for configuration %q", configID)
	default:
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
}

func importStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of an import run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetImportRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printRun(run)
			return nil
		},
	}
}
