package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/authenticator/authn"
	"github.com/scitex/scitex-cloud/pkg/authenticator/token"
	"github.com/scitex/scitex-cloud/pkg/db"
	"github.com/scitex/scitex-cloud/pkg/gitea"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/logging"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/endpoints"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
	storegorm "github.com/scitex/scitex-cloud/pkg/server/store/gorm"
	"github.com/scitex/scitex-cloud/pkg/signals"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// TestContext holds a gateway wired to a PostgreSQL container, an in-memory
// broker, a worker, a fake Gitea and a fake SLURM cluster.
type TestContext struct {
	DB          *gorm.DB
	Container   testcontainers.Container
	DatabaseURL string
	ServerURL   string
	HTTPClient  *http.Client

	Users    *storegorm.UsersStore
	Projects *storegorm.ProjectsStore
	Jobs     *storegorm.JobsStore
	Broker   *tasks.MemoryBroker

	WorkspaceRoot string
	ContainerDir  string

	Gitea   *fakeGitea
	Cluster *fakeCluster
	Logs    *logtest.Hook

	cancel context.CancelFunc
	http   *httptest.Server
	gitea  *httptest.Server
	done   chan struct{}
}

// NewTestContext starts PostgreSQL, migrates it and serves the gateway
// in-process.
func NewTestContext(ctx context.Context) (*TestContext, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("scitex_test"),
		tcpostgres.WithUsername("scitex"),
		tcpostgres.WithPassword("scitex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	connStr := fmt.Sprintf("postgres://scitex:scitex@%s:%s/scitex_test?sslmode=disable", host, port.Port())

	if err := runMigrations(filepath.Join(projectRoot, "db", "migrations"), connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	tc, err := startGateway(connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}
	tc.Container = pgContainer
	return tc, nil
}

func startGateway(connStr string) (*TestContext, error) {
	log := logging.Discard()
	if os.Getenv("INTEGRATION_VERBOSE") != "" {
		verbose, err := logging.New(os.Stderr, "debug", "text")
		if err != nil {
			return nil, err
		}
		log = verbose
	}
	logs := logtest.NewLocal(log)

	sig := signals.NewDispatcher()
	gdb, err := db.Connect(db.Config{URL: connStr, Signals: sig})
	if err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp("", "scitex-it-")
	if err != nil {
		return nil, err
	}
	workspaces := filepath.Join(root, "workspaces")
	containers := filepath.Join(root, "containers")
	for _, dir := range []string{workspaces, containers} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(filepath.Join(containers, "python.sif"), []byte("sif"), 0o644); err != nil {
		return nil, err
	}

	router, err := tasks.NewRouter([]tasks.Route{
		{Pattern: "code.run_script", Queue: "compute_light"},
		{Pattern: "writer.*", Queue: "latex"},
		{Pattern: "gitea.*", Queue: "sync"},
	}, "default")
	if err != nil {
		return nil, err
	}
	broker := tasks.NewMemoryBroker(time.Hour)
	dispatcher := tasks.NewDispatcher(broker, router, log)
	gitea.Connect(sig, dispatcher, log)

	cluster := newFakeCluster()
	manager, err := slurm.NewManager(cluster, slurm.Options{
		NodeCPUs:         32,
		MaxJobsPerUser:   1,
		MaxMemoryGB:      128,
		Partitions:       map[string]time.Duration{"normal": 24 * time.Hour},
		DefaultPartition: "normal",
		ContainerDir:     containers,
		WorkspaceRoot:    workspaces,
	}, log)
	if err != nil {
		return nil, err
	}

	users := storegorm.NewUsersStore(gdb)
	projects := storegorm.NewProjectsStore(gdb)
	jobStore := storegorm.NewJobsStore(gdb)

	tokens, err := token.New("integration-secret", time.Hour)
	if err != nil {
		return nil, err
	}
	apiKeys := authn.New(users, log)
	registry := authenticator.NewRegistry()
	registry.Register(apiKeys)
	registry.Register(tokens)
	auditor := audit.NewLogger(io.Discard)

	s := server.NewServer(log, "127.0.0.1", "0")
	s.Version = "integration"
	s.UsersStore = users
	s.ProjectsStore = projects
	s.JobsStore = jobStore
	s.HealthStore = storegorm.NewHealthStore(gdb)
	s.Tasks = dispatcher
	s.Broker = broker
	s.Jobs = jobs.NewService(jobStore, projects, manager, dispatcher, jobs.Limits{
		AsyncMaxCPUs:     2,
		AsyncMaxMemoryGB: 4,
		AsyncMaxTime:     10 * time.Minute,
		MaxSubmitPerUser: 10,
		WorkspaceRoot:    workspaces,
		MaxOutputBytes:   1 << 16,
	}, log)
	s.Authenticators = registry
	s.APIKeys = apiKeys
	s.Tokens = tokens
	s.Audit = auditor
	s.Auth = middleware.NewAuth(registry, auditor, log)
	endpoints.RegisterAll(s)

	fg := newFakeGitea()
	giteaSrv := httptest.NewServer(fg)

	worker := tasks.NewWorker(broker, router, log, tasks.WorkerOptions{
		Concurrency: 2,
		Queues:      []string{"compute_light", "latex", "sync", "default"},
		PollTimeout: 100 * time.Millisecond,
	})
	(&jobs.Handlers{Exec: echoExecutor{}, WorkspaceRoot: workspaces, Log: log}).Register(worker)
	(&gitea.Handlers{API: gitea.NewClient(giteaSrv.URL, "integration", log), Users: users, Log: log}).Register(worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	httpSrv := httptest.NewServer(s.Handler())

	return &TestContext{
		DB:            gdb,
		DatabaseURL:   connStr,
		ServerURL:     httpSrv.URL,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		Users:         users,
		Projects:      projects,
		Jobs:          jobStore,
		Broker:        broker,
		WorkspaceRoot: workspaces,
		ContainerDir:  containers,
		Gitea:         fg,
		Cluster:       cluster,
		Logs:          logs,
		cancel:        cancel,
		http:          httpSrv,
		gitea:         giteaSrv,
		done:          done,
	}, nil
}

// Close cleans up all test resources
func (tc *TestContext) Close(ctx context.Context) {
	if tc.cancel != nil {
		tc.cancel()
		<-tc.done
	}
	if tc.http != nil {
		tc.http.Close()
	}
	if tc.gitea != nil {
		tc.gitea.Close()
	}
	if tc.DB != nil {
		if sqlDB, err := tc.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if tc.WorkspaceRoot != "" {
		_ = os.RemoveAll(filepath.Dir(tc.WorkspaceRoot))
	}
	if tc.Container != nil {
		_ = tc.Container.Terminate(ctx)
	}
}

// findProjectRoot locates the directory holding go.mod.
func findProjectRoot() (string, error) {
	for _, p := range []string{"../..", "..", "."} {
		if _, err := os.Stat(filepath.Join(p, "go.mod")); err == nil {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("project root not found (looking for go.mod)")
}

func runMigrations(dir, dbURL string) error {
	m, err := migrate.New("file://"+dir, dbURL+"&x-migrations-table=scitex_schema_migrations")
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// echoExecutor stands in for apptainer: it prints the command it was given.
type echoExecutor struct{}

func (echoExecutor) Exec(_ context.Context, _ string, stdout, _ io.Writer, name string, args ...string) (int, error) {
	_, err := fmt.Fprintf(stdout, "ran %s %s\n", name, strings.Join(args, " "))
	return 0, err
}

// fakeGitea records the admin API calls it receives and answers them with
// 201 for POST and 204 otherwise unless told to answer a method differently.
type fakeGitea struct {
	mu     sync.Mutex
	calls  []string
	status map[string]int
}

func newFakeGitea() *fakeGitea {
	return &fakeGitea{status: map[string]int{}}
}

func (g *fakeGitea) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.calls = append(g.calls, r.Method+" "+r.URL.Path)
	code, ok := g.status[r.Method]
	g.mu.Unlock()

	if !ok {
		code = http.StatusNoContent
		if r.Method == http.MethodPost {
			code = http.StatusCreated
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if code != http.StatusNoContent {
		_, _ = fmt.Fprintf(w, `{"message":%q}`, http.StatusText(code))
	}
}

// Respond makes every later request with method get code.
func (g *fakeGitea) Respond(method string, code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[method] = code
}

// ResetResponses restores the default answers.
func (g *fakeGitea) ResetResponses() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = map[string]int{}
}

// Calls returns the "METHOD /path" lines received so far.
func (g *fakeGitea) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// clusterJob is what the fake cluster remembers about a submitted job.
// state is kept as sacct would print it, e.g. "CANCELLED by 1000".
type clusterJob struct {
	name   string
	owner  string
	state  string
	reason string
	exit   string
}

// fakeCluster answers sbatch, squeue, sacct and scancel like a one-node
// cluster. Jobs start running as soon as they are submitted unless a
// singleton job with the same name is still active, in which case they wait
// on a Dependency. Jobs that have finished are only reported by sacct.
type fakeCluster struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]*clusterJob
	calls  map[string]int
	reject string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{nextID: 5000, jobs: map[string]*clusterJob{}, calls: map[string]int{}}
}

func (c *fakeCluster) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++

	switch name {
	case "sbatch":
		if c.reject != "" {
			return nil, &slurm.CommandError{Command: name, ExitCode: 1, Stderr: c.reject}
		}
		job := readBatchScript(args[len(args)-1])
		job.state = slurm.StateRunning
		if job.reason == "Dependency" {
			job.state = slurm.StatePending
			if !c.activeNamedLocked(job.name) {
				job.reason = ""
				job.state = slurm.StateRunning
			}
		}
		c.nextID++
		id := fmt.Sprint(c.nextID)
		c.jobs[id] = job
		return []byte(id + "\n"), nil
	case "squeue":
		var out strings.Builder
		for id, job := range c.jobs {
			if !matchesJobFlag(args, id) || slurm.IsTerminal(baseState(job.state)) {
				continue
			}
			reason := "node1"
			if job.state == slurm.StatePending {
				reason = "(" + job.reason + ")"
			}
			fmt.Fprintf(&out, "%s|%s|%s|normal|0:05|1:00:00|%s|scitex:user=%s\n", id, job.name, job.state, reason, job.owner)
		}
		return []byte(out.String()), nil
	case "sacct":
		var out strings.Builder
		for id, job := range c.jobs {
			if !matchesJobFlag(args, id) {
				continue
			}
			exit := job.exit
			if exit == "" {
				exit = "0:0"
			}
			fmt.Fprintf(&out, "%s|%s|%s|%s|00:00:05|node1\n", id, job.name, job.state, exit)
			fmt.Fprintf(&out, "%s.batch|batch|%s|%s|00:00:05|node1\n", id, job.state, exit)
		}
		return []byte(out.String()), nil
	case "scancel":
		id := args[0]
		job, ok := c.jobs[id]
		if !ok {
			return nil, &slurm.CommandError{Command: name, ExitCode: 1, Stderr: "scancel: error: Invalid job id specified"}
		}
		if !slurm.IsTerminal(baseState(job.state)) {
			job.state = slurm.StateCancelled
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func (c *fakeCluster) activeNamedLocked(name string) bool {
	for _, job := range c.jobs {
		if job.name == name && !slurm.IsTerminal(baseState(job.state)) {
			return true
		}
	}
	return false
}

// State returns the normalised state the cluster holds for id.
func (c *fakeCluster) State(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[id]; ok {
		return baseState(job.state)
	}
	return ""
}

// Finish ends job id outside of the gateway, as the scheduler or an
// administrator would.
func (c *fakeCluster) Finish(id, state, exit string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return fmt.Errorf("cluster has no job %s", id)
	}
	job.state, job.exit, job.reason = state, exit, ""
	return nil
}

// RejectSubmissions makes sbatch fail with stderr until Reset is called.
func (c *fakeCluster) RejectSubmissions(stderr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = stderr
}

// Calls returns how often command has been run.
func (c *fakeCluster) Calls(command string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[command]
}

// Reset stops rejecting submissions.
func (c *fakeCluster) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = ""
}

func baseState(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return strings.TrimSuffix(f[0], "+")
	}
	return s
}

func matchesJobFlag(args []string, id string) bool {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "--jobs="); ok {
			return v == id
		}
	}
	return true
}

// readBatchScript reads the job name, owner and singleton dependency back
// out of a rendered batch script. A singleton job comes back with reason
// "Dependency".
func readBatchScript(path string) *clusterJob {
	job := &clusterJob{}
	data, err := os.ReadFile(path)
	if err != nil {
		return job
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "#SBATCH --job-name="):
			job.name = strings.TrimPrefix(line, "#SBATCH --job-name=")
		case strings.HasPrefix(line, "#SBATCH --comment="):
			v := strings.Trim(strings.TrimPrefix(line, "#SBATCH --comment="), `"`)
			job.owner = strings.TrimPrefix(v, "scitex:user=")
		case line == "#SBATCH --dependency=singleton":
			job.reason = "Dependency"
		}
	}
	return job
}
