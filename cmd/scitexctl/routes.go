package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/config"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

var routesCmd = &cobra.Command{
	Use:   "routes [task...]",
	Short: "Show the task routing table",
	Long: `Show the task routing table, first match wins.

With task names as arguments, show the queue each task is routed to.

Example:
  scitexctl routes
  scitexctl routes writer.ai_suggest code.run_script`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		exitOnError("Failed to load configuration", err)
		router, err := tasks.RouterFromConfig(cfg)
		exitOnError("Invalid task routes", err)
		printRoutes(os.Stdout, router, args)
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func printRoutes(out io.Writer, router *tasks.Router, names []string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	if len(names) > 0 {
		_, _ = fmt.Fprintln(tw, "TASK\tQUEUE\tRATE LIMIT")
		for _, name := range names {
			r := router.Resolve(name)
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", name, r.Queue, orDash(r.RateLimit))
		}
		return
	}

	_, _ = fmt.Fprintln(tw, "PATTERN\tQUEUE\tRATE LIMIT")
	for _, r := range router.Routes() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Pattern, r.Queue, orDash(r.RateLimit))
	}
	_, _ = fmt.Fprintf(tw, "*\t%s\t-\n", router.DefaultQueue())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
