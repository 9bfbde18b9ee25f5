package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

func projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage matching candidate projects",
		Long:  `List and maintain the validated projects that invoices are matched against.`,
	}

	cmd.AddCommand(projectsListCmd())
	cmd.AddCommand(projectsAddCmd())

	return cmd
}

func projectsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List validated projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := store.GetValidatedProjects(ctx)
			if err != nil {
				return fmt.Errorf("failed to get projects: %w", err)
			}

			if len(projects) == 0 {
				fmt.Println("No validated projects. Use 'invoiceflow projects add' to create one.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "ID\tName\tCity\tTax ID\tStatus")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.City, p.TaxID, p.Status)
			}
			return nil
		},
	}
}

func projectsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				id = uuid.NewString()
			}
			name, _ := cmd.Flags().GetString("name")
			description, _ := cmd.Flags().GetString("description")
			address, _ := cmd.Flags().GetString("address")
			city, _ := cmd.Flags().GetString("city")
			taxID, _ := cmd.Flags().GetString("tax-id")
			budget, _ := cmd.Flags().GetString("budget")
			status, _ := cmd.Flags().GetString("status")
			validated, _ := cmd.Flags().GetBool("validated")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			project := &model.Project{
				ID:          id,
				Name:        name,
				Description: description,
				Address:     address,
				City:        city,
				TaxID:       taxID,
				Budget:      budget,
				Status:      status,
				Validated:   validated,
			}
			if err := store.SaveProject(ctx, project); err != nil {
				return fmt.Errorf("failed to save project: %w", err)
			}

			fmt.Printf("Saved project %s\n", id)
			return nil
		},
	}

	cmd.Flags().String("id", "", "project id (generated when omitted)")
	cmd.Flags().String("name", "", "project name (required)")
	cmd.Flags().String("description", "", "project description")
	cmd.Flags().String("address", "", "project address")
	cmd.Flags().String("city", "", "project city")
	cmd.Flags().String("tax-id", "", "project tax id")
	cmd.Flags().String("budget", "", "project budget")
	cmd.Flags().String("status", "active", "project status")
	cmd.Flags().Bool("validated", false, "include the project as a matching candidate")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
