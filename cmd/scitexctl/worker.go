package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/gitea"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	storegorm "github.com/scitex/scitex-cloud/pkg/server/store/gorm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a task worker",
	Long: `Run a task worker.

The worker runs light script runs, LaTeX compilation and, when GITEA_URL is
set, the Gitea mirror tasks. By default it consumes every routed queue so a
task nothing handles is recorded as failed instead of waiting forever. Use
--queues to consume a subset, in priority order.

Example:
  scitexctl worker
  scitexctl worker --queues compute_light --concurrency 4`,
	Run: func(cmd *cobra.Command, args []string) {
		queues, _ := cmd.Flags().GetStringSlice("queues")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		latexmk, _ := cmd.Flags().GetString("latexmk")
		exitOnError("Worker failed", runWorker(queues, concurrency, latexmk))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringSlice("queues", nil, "queues to consume (default: every routed queue)")
	workerCmd.Flags().IntP("concurrency", "c", 2, "number of concurrent task goroutines")
	workerCmd.Flags().String("latexmk", "latexmk", "latexmk binary used to compile documents")
}

func runWorker(queues []string, concurrency int, latexmk string) error {
	rt, err := newRuntime("worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.log.WithField("component", "worker")

	jobHandlers := &jobs.Handlers{
		Exec:          jobs.OSExecutor{},
		ApptainerBin:  rt.cfg.ApptainerBin,
		LatexmkBin:    latexmk,
		WorkspaceRoot: rt.cfg.WorkspaceRoot,
		Log:           log,
	}
	names := []string{jobs.TaskRunScript, jobs.TaskCompileLatex}

	var giteaHandlers *gitea.Handlers
	if rt.cfg.GiteaURL != "" {
		giteaHandlers = &gitea.Handlers{
			API:   gitea.NewClient(rt.cfg.GiteaURL, rt.cfg.GiteaToken, log.WithField("component", "gitea")),
			Users: storegorm.NewUsersStore(rt.db),
			Log:   log,
		}
		names = append(names, gitea.TaskCreateUser, gitea.TaskDeleteUser, gitea.TaskCreateRepo, gitea.TaskDeleteRepo)
	}

	if len(queues) == 0 {
		if idle := queuesWithout(rt.router, names); len(idle) > 0 {
			log.WithField("queues", idle).Warn("no registered task routes to these queues, their tasks will fail")
		}
	}
	w := tasks.NewWorker(rt.broker, rt.router, log, tasks.WorkerOptions{
		Concurrency: concurrency,
		Queues:      queues,
		PollTimeout: 2 * time.Second,
	})
	jobHandlers.Register(w)
	if giteaHandlers != nil {
		giteaHandlers.Register(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}

// queuesWithout returns the routed queues none of the named tasks resolve to.
func queuesWithout(router *tasks.Router, names []string) []string {
	handled := map[string]bool{}
	for _, name := range names {
		handled[router.Resolve(name).Queue] = true
	}
	var idle []string
	for _, q := range router.Queues() {
		if !handled[q] {
			idle = append(idle, q)
		}
	}
	sort.Strings(idle)
	return idle
}
