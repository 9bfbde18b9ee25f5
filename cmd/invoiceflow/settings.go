package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/storage"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage decision thresholds",
		Long: fmt.Sprintf(`Read and write operator-tunable settings. Known keys:

  %s   invoices at or below this amount skip matching
  %s   minimum score for automatic project assignment (default %.0f)

Values take effect on the next decision; no restart is needed.`,
			storage.SettingPettyCashThreshold,
			storage.SettingAutoMatchThreshold,
			storage.DefaultAutoMatchThreshold),
	}

	cmd.AddCommand(settingsGetCmd())
	cmd.AddCommand(settingsSetCmd())

	return cmd
}

func settingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			value, err := store.GetSetting(cmd.Context(), args[0])
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("setting %q is not set", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Println(value)
			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a setting value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}
