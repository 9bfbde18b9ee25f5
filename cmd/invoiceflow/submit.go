package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdmontoya/invoiceflow/internal/broadcast"
	"github.com/jdmontoya/invoiceflow/internal/match"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/pipeline"
)

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a single invoice document for processing",
		Long: `Run one document through the full pipeline: OCR, field extraction,
petty cash classification, and project matching. Blocks until the
invoice reaches a terminal state and prints the outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}

	cmd.Flags().String("user", "cli", "owner of the submitted invoice")

	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	filePath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	userID, _ := cmd.Flags().GetString("user")

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

	invoiceID, err := pipe.Submit(ctx, userID, filePath)
	if err != nil {
		return err
	}
	fmt.Printf("Submitted invoice %s\n", invoiceID)

	invoice, err := waitForInvoice(ctx, store, invoiceID)
	if err != nil {
		return err
	}

	printInvoice(invoice)
	if invoice.Status == model.StatusRejected {
		return fmt.Errorf("invoice rejected")
	}
	return nil
}

type invoiceGetter interface {
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
}

// waitForInvoice polls until processing reaches a terminal state.
func waitForInvoice(ctx context.Context, store invoiceGetter, invoiceID string) (*model.Invoice, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		invoice, err := store.GetInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}

		switch invoice.Status {
		case model.StatusRejected, model.StatusPettyCashPending:
			return invoice, nil
		case model.StatusExtracted:
			if invoice.MatchStatus != model.MatchUnmatched {
				return invoice, nil
			}
		}
	}
}

func printInvoice(invoice *model.Invoice) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Status\t%s\n", invoice.Status)
	if invoice.Status == model.StatusRejected {
		if invoice.ProcessingError != nil {
			fmt.Fprintf(w, "Error\t%s (%s, step %s)\n",
				invoice.ProcessingError.Message,
				invoice.ProcessingError.ErrorType,
				invoice.ProcessingError.Step)
		}
		return
	}

	fmt.Fprintf(w, "Vendor\t%s\n", invoice.VendorName)
	fmt.Fprintf(w, "Invoice number\t%s\n", invoice.InvoiceNumber)
	if invoice.TotalAmount != nil {
		fmt.Fprintf(w, "Total\t%s %s\n", invoice.TotalAmount.String(), invoice.Currency)
	}
	fmt.Fprintf(w, "Match status\t%s\n", invoice.MatchStatus)
	if invoice.MatchedProjectID != "" {
		fmt.Fprintf(w, "Project\t%s\n", invoice.MatchedProjectID)
	}
	if invoice.MatchScore != nil {
		fmt.Fprintf(w, "Match score\t%.1f\n", *invoice.MatchScore)
	}
}
