package main

import (
	"fmt"

	"github.com/celerix-dev/celerix-export/internal/audit"
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent export attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Audit.Disabled {
			return fmt.Errorf("audit log is disabled")
		}
		store, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", audit.DefaultLimit, "number of entries to show")
}
