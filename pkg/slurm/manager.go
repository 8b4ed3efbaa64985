package slurm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a Manager.
type Options struct {
	NodeCPUs         int
	MaxMemoryGB      int
	Partitions       map[string]time.Duration
	DefaultPartition string
	// MaxJobsPerUser bounds the jobs of one user that may run at the same
	// time. Extra jobs are accepted and wait in PENDING. Zero disables it.
	MaxJobsPerUser int
	ApptainerBin   string
	ContainerDir   string
	WorkspaceRoot  string
	MaxOutputBytes int64
}

// SubmitRequest is a request to run a script in a container on the cluster.
type SubmitRequest struct {
	UserID        string
	ScriptPath    string
	ContainerPath string
	Workspace     string
	JobName       string
	Partition     string
	CPUs          int
	MemoryGB      int
	TimeLimit     string
}

// Prepared is a validated SubmitRequest with every path resolved.
type Prepared struct {
	UserID    string
	JobName   string
	Workspace string
	Script    string
	ScriptRel string
	Container string
	Partition string
	CPUs      int
	MemoryGB  int
	TimeLimit time.Duration
}

// Submission describes a job accepted by sbatch.
type Submission struct {
	JobID      string
	Cluster    string
	SlurmName  string
	ScriptFile string
	Partition  string
	TimeLimit  time.Duration
}

// JobStatus is the state of a job as reported by squeue or sacct.
type JobStatus struct {
	JobID    string `json:"job_id"`
	Name     string `json:"name,omitempty"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	ExitCode int    `json:"exit_code"`
	Elapsed  string `json:"elapsed,omitempty"`
	NodeList string `json:"node_list,omitempty"`
	Source   string `json:"source"`
}

// Output is the tail of a job's stdout and stderr files.
type Output struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated"`
}

// Manager wraps the SLURM command line tools.
type Manager struct {
	runner Runner
	opts   Options
	log    logrus.FieldLogger
}

var (
	userIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	jobNameInvalid = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	slotName       = regexp.MustCompile(`^scitex-u(.+)-s([0-9]+)$`)
)

// NewManager returns a Manager executing commands through runner.
func NewManager(runner Runner, opts Options, log logrus.FieldLogger) (*Manager, error) {
	if opts.NodeCPUs <= 0 || opts.MaxMemoryGB <= 0 {
		return nil, fmt.Errorf("node cpus and max memory must be positive")
	}
	if _, ok := opts.Partitions[opts.DefaultPartition]; !ok {
		return nil, fmt.Errorf("%w: default partition %q", ErrUnknownPartition, opts.DefaultPartition)
	}
	if opts.ApptainerBin == "" {
		opts.ApptainerBin = "apptainer"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	return &Manager{runner: runner, opts: opts, log: log}, nil
}

// Prepare validates req and resolves its paths. No command is run.
func (m *Manager) Prepare(req SubmitRequest) (*Prepared, error) {
	if !userIDPattern.MatchString(req.UserID) {
		return nil, fmt.Errorf("%w: invalid user id %q", ErrInvalidRequest, req.UserID)
	}
	if req.CPUs < 1 || req.CPUs > m.opts.NodeCPUs {
		return nil, fmt.Errorf("%w: cpus must be between 1 and %d, got %d", ErrInvalidRequest, m.opts.NodeCPUs, req.CPUs)
	}
	if req.MemoryGB < 1 || req.MemoryGB > m.opts.MaxMemoryGB {
		return nil, fmt.Errorf("%w: memory_gb must be between 1 and %d, got %d", ErrInvalidRequest, m.opts.MaxMemoryGB, req.MemoryGB)
	}

	partition := req.Partition
	if partition == "" {
		partition = m.opts.DefaultPartition
	}
	maxTime, ok := m.opts.Partitions[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}

	limit := maxTime
	if req.TimeLimit != "" {
		d, err := ParseTimeLimit(req.TimeLimit)
		if err != nil {
			return nil, err
		}
		if d > maxTime {
			return nil, fmt.Errorf("%w: %s exceeds the %s limit of partition %s",
				ErrInvalidTimeLimit, req.TimeLimit, FormatTimeLimit(maxTime), partition)
		}
		limit = d
	}

	workspace, err := m.resolveWorkspace(req.Workspace)
	if err != nil {
		return nil, err
	}

	script := req.ScriptPath
	if !filepath.IsAbs(script) {
		script = filepath.Join(workspace, script)
	}
	script = filepath.Clean(script)
	rel, err := filepath.Rel(workspace, script)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return nil, fmt.Errorf("%w: script %q is outside the workspace", ErrInvalidRequest, req.ScriptPath)
	}
	if info, err := os.Stat(script); err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, req.ScriptPath)
	}

	container := req.ContainerPath
	if container == "" {
		return nil, fmt.Errorf("%w: no container given", ErrContainerNotFound)
	}
	if !filepath.IsAbs(container) {
		container = filepath.Join(m.opts.ContainerDir, container)
	}
	container = filepath.Clean(container)
	if _, err := os.Stat(container); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, req.ContainerPath)
	}

	name := strings.Trim(jobNameInvalid.ReplaceAllString(req.JobName, "_"), "_")
	if name == "" {
		name = "job"
	}
	if len(name) > 64 {
		name = name[:64]
	}

	return &Prepared{
		UserID:    req.UserID,
		JobName:   name,
		Workspace: workspace,
		Script:    script,
		ScriptRel: filepath.ToSlash(rel),
		Container: container,
		Partition: partition,
		CPUs:      req.CPUs,
		MemoryGB:  req.MemoryGB,
		TimeLimit: limit,
	}, nil
}

func (m *Manager) resolveWorkspace(ws string) (string, error) {
	if ws == "" || !filepath.IsAbs(ws) {
		return "", fmt.Errorf("%w: workspace must be an absolute path", ErrInvalidRequest)
	}
	if strings.ContainsAny(ws, " \t\r\n") {
		return "", fmt.Errorf("%w: workspace path must not contain whitespace", ErrInvalidRequest)
	}
	ws = filepath.Clean(ws)
	if root := m.opts.WorkspaceRoot; root != "" {
		rel, err := filepath.Rel(filepath.Clean(root), ws)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: workspace is outside %s", ErrInvalidRequest, root)
		}
	}
	info, err := os.Stat(ws)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: workspace %s does not exist", ErrInvalidRequest, ws)
	}
	return ws, nil
}

// SubmitJob validates req, writes its batch script into the workspace and
// hands it to sbatch.
func (m *Manager) SubmitJob(ctx context.Context, req SubmitRequest) (*Submission, error) {
	p, err := m.Prepare(req)
	if err != nil {
		return nil, err
	}
	return m.Submit(ctx, p)
}

// Submit hands an already prepared request to sbatch.
func (m *Manager) Submit(ctx context.Context, p *Prepared) (*Submission, error) {
	slurmName := "scitex-u" + p.UserID
	singleton := false
	if m.opts.MaxJobsPerUser > 0 {
		slot := m.pickSlot(ctx, p.UserID)
		slurmName = fmt.Sprintf("scitex-u%s-s%d", p.UserID, slot)
		singleton = true
	}

	body, err := renderBatchScript(p, slurmName, singleton, m.opts.ApptainerBin)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.Workspace, OutputDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	scriptFile := filepath.Join(dir, fmt.Sprintf("%s-%d.sbatch", p.JobName, time.Now().UnixNano()))
	if err := os.WriteFile(scriptFile, body, 0o644); err != nil {
		return nil, fmt.Errorf("write batch script: %w", err)
	}

	out, err := m.runner.Run(ctx, "sbatch", "--parsable", scriptFile)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && isQuotaError(cmdErr.Stderr) {
			return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, strings.TrimSpace(cmdErr.Stderr))
		}
		return nil, err
	}

	jobID, cluster, err := parseSbatch(out)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"user_id":   p.UserID,
		"partition": p.Partition,
		"cpus":      p.CPUs,
		"memory_gb": p.MemoryGB,
		"time":      FormatTimeLimit(p.TimeLimit),
	}).Info("submitted slurm job")

	return &Submission{
		JobID:      jobID,
		Cluster:    cluster,
		SlurmName:  slurmName,
		ScriptFile: scriptFile,
		Partition:  p.Partition,
		TimeLimit:  p.TimeLimit,
	}, nil
}

// pickSlot returns the least used of the user's MaxJobsPerUser singleton
// slots. Jobs sharing a slot name run one after another, so at most
// MaxJobsPerUser of the user's jobs run at once whatever slot is chosen.
func (m *Manager) pickSlot(ctx context.Context, userID string) int {
	counts := make([]int, m.opts.MaxJobsPerUser)
	entries, err := m.ListQueue(ctx, userID)
	if err != nil {
		m.log.WithError(err).Warn("could not list queue for slot selection")
		return 0
	}
	for _, e := range entries {
		match := slotName.FindStringSubmatch(e.Name)
		if match == nil || match[1] != userID {
			continue
		}
		slot, err := strconv.Atoi(match[2])
		if err != nil || slot >= len(counts) {
			continue
		}
		counts[slot]++
	}
	best := 0
	for i, c := range counts {
		if c < counts[best] {
			best = i
		}
	}
	return best
}

// ListQueue returns the queued and running jobs of userID, or of every
// SciTeX user when userID is empty.
func (m *Manager) ListQueue(ctx context.Context, userID string) ([]QueueEntry, error) {
	out, err := m.runner.Run(ctx, "squeue", "--noheader", "--format="+squeueFormat)
	if err != nil {
		return nil, err
	}
	entries, err := parseQueue(out)
	if err != nil {
		return nil, err
	}

	result := make([]QueueEntry, 0, len(entries))
	for _, e := range entries {
		owner := e.UserID()
		if owner == "" {
			continue
		}
		if userID != "" && owner != userID {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// GetJobStatus asks squeue for the job and falls back to sacct once the job
// has left the queue.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if !jobIDPattern.MatchString(jobID) {
		return nil, fmt.Errorf("%w: invalid job id %q", ErrInvalidRequest, jobID)
	}

	out, err := m.runner.Run(ctx, "squeue", "--noheader", "--jobs="+jobID, "--format="+squeueFormat)
	switch {
	case err == nil:
		entries, perr := parseQueue(out)
		if perr != nil {
			return nil, perr
		}
		for _, e := range entries {
			if e.JobID != jobID {
				continue
			}
			status := &JobStatus{
				JobID:   e.JobID,
				Name:    e.Name,
				State:   e.State,
				Elapsed: e.Elapsed,
				Source:  "squeue",
			}
			if e.State == StateRunning || e.State == StateCompleting {
				status.NodeList = e.Reason
			} else if e.Reason != "None" {
				status.Reason = e.Reason
			}
			return status, nil
		}
	case isInvalidJobID(err):
		// Purged from slurmctld memory; accounting still knows it.
	default:
		return nil, err
	}

	out, err = m.runner.Run(ctx, "sacct", "--noheader", "--parsable2", "--jobs="+jobID, "--format="+sacctFormat)
	if err != nil {
		return nil, err
	}
	status, found, err := parseAccounting(out, jobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return status, nil
}

// CancelJob cancels a job with scancel.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("%w: invalid job id %q", ErrInvalidRequest, jobID)
	}
	if _, err := m.runner.Run(ctx, "scancel", jobID); err != nil {
		if isInvalidJobID(err) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return err
	}
	m.log.WithField("job_id", jobID).Info("cancelled slurm job")
	return nil
}

// OutputPaths returns the stdout and stderr files SLURM writes for jobID.
func OutputPaths(workspace, jobID string) (stdout, stderr string) {
	dir := filepath.Join(workspace, OutputDir)
	return filepath.Join(dir, "slurm-"+jobID+".out"), filepath.Join(dir, "slurm-"+jobID+".err")
}

// GetJobOutput reads the tail of the job's stdout and stderr files.
func (m *Manager) GetJobOutput(_ context.Context, jobID, workspace string) (*Output, error) {
	if !jobIDPattern.MatchString(jobID) {
		return nil, fmt.Errorf("%w: invalid job id %q", ErrInvalidRequest, jobID)
	}
	ws, err := m.resolveWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	stdoutPath, stderrPath := OutputPaths(ws, jobID)
	return ReadOutput(stdoutPath, stderrPath, m.opts.MaxOutputBytes)
}

// ReadOutput reads at most max trailing bytes of each file. A missing
// stdout file is ErrOutputNotFound; a missing stderr file is empty.
func ReadOutput(stdoutPath, stderrPath string, max int64) (*Output, error) {
	stdout, truncOut, err := readTail(stdoutPath, max)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrOutputNotFound, filepath.Base(stdoutPath))
		}
		return nil, err
	}
	stderr, truncErr, err := readTail(stderrPath, max)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return &Output{Stdout: stdout, Stderr: stderr, Truncated: truncOut || truncErr}, nil
}

func readTail(path string, max int64) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", false, err
	}
	truncated := false
	if info.Size() > max {
		if _, err := f.Seek(info.Size()-max, io.SeekStart); err != nil {
			return "", false, err
		}
		truncated = true
	}
	data, err := io.ReadAll(io.LimitReader(f, max))
	if err != nil {
		return "", false, err
	}
	return string(data), truncated, nil
}

func isInvalidJobID(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "Invalid job id")
}
