package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/db"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show persisted audit messages",
	Long: `Show the newest audit messages from the audit_messages table.

Example:
  scitexctl audit --limit 50`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := audit.NewStore(db.URL())
		exitOnError("Failed to open audit store", err)
		if store == nil {
			exitOnError("Failed to open audit store", fmt.Errorf("DATABASE_URL environment variable is required"))
		}
		defer func() { _ = store.Close() }()

		messages, err := store.Recent(limit)
		exitOnError("Failed to read audit messages", err)

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer func() { _ = tw.Flush() }()
		_, _ = fmt.Fprintln(tw, "TIME\tHOST\tTYPE\tMESSAGE")
		for _, m := range messages {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Timestamp.Local().Format(time.RFC3339), m.Hostname, m.Msgid, m.Message)
		}
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntP("limit", "l", 20, "number of messages to show")
}
