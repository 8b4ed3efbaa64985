package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/loop"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the gateway to be healthy",
	Long: `Wait for the gateway to be healthy by polling its health endpoint.

This command will repeatedly check /health until the database and the task
broker are reachable or the maximum number of retries is reached.

Example:
  scitexctl wait
  scitexctl wait --port 3000 --retries 60`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		retries, _ := cmd.Flags().GetInt("retries")

		url := fmt.Sprintf("http://localhost:%d/health", port)
		exitOnError("Server did not become ready", waitForServer(cmd.Context(), url, retries, time.Second))
		fmt.Println("Gateway is ready")
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntP("port", "p", defaultPortInt(), "Server port to check")
	waitCmd.Flags().IntP("retries", "r", 90, "Number of retries")
}

func waitForServer(ctx context.Context, url string, retries int, every time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	fmt.Fprintln(os.Stderr, "Waiting for the gateway to be ready...")

	attempts, err := loop.Start(ctx, 0, func(ctx context.Context, n int) (int, loop.Next) {
		if n >= retries {
			return n, loop.Break(fmt.Errorf("gateway is not ready after %d attempts", retries))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return n, loop.Break(err)
		}
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 300 {
				return n + 1, loop.Break(nil)
			}
		}
		fmt.Fprint(os.Stderr, ".")
		return n + 1, loop.Continue(every)
	})
	fmt.Fprintln(os.Stderr)
	if err == nil {
		fmt.Fprintf(os.Stderr, "Ready after %d attempt(s)\n", attempts)
	}
	return err
}
