package slurm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/logging"
)

type fakeRunner struct {
	mock.Mock
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ret := f.MethodCalled(name, args)
	var out []byte
	if b := ret.Get(0); b != nil {
		out = b.([]byte)
	}
	return out, ret.Error(1)
}

type fixture struct {
	root      string
	workspace string
	runner    *fakeRunner
	manager   *Manager
}

func newFixture(t *testing.T, maxJobs int) *fixture {
	t.Helper()
	root := t.TempDir()
	workspace := filepath.Join(root, "workspaces", "u1", "paper")
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "scripts", "run.sh"), []byte("python analyse.py\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "containers"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "containers", "python.sif"), []byte("sif"), 0o644))

	runner := &fakeRunner{}
	m, err := NewManager(runner, Options{
		NodeCPUs:    8,
		MaxMemoryGB: 32,
		Partitions: map[string]time.Duration{
			"express": time.Hour,
			"normal":  24 * time.Hour,
		},
		DefaultPartition: "normal",
		MaxJobsPerUser:   maxJobs,
		ApptainerBin:     "/usr/bin/apptainer",
		ContainerDir:     filepath.Join(root, "containers"),
		WorkspaceRoot:    filepath.Join(root, "workspaces"),
		MaxOutputBytes:   16,
	}, logging.Discard())
	require.NoError(t, err)

	return &fixture{root: root, workspace: workspace, runner: runner, manager: m}
}

func (f *fixture) request() SubmitRequest {
	return SubmitRequest{
		UserID:        "u1",
		ScriptPath:    "scripts/run.sh",
		ContainerPath: "python.sif",
		Workspace:     f.workspace,
		JobName:       "fit model",
		Partition:     "express",
		CPUs:          4,
		MemoryGB:      8,
		TimeLimit:     "00:30:00",
	}
}

func TestSubmitJob(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("sbatch", mock.Anything).Return([]byte("4242;cluster1\n"), nil).Once()

	sub, err := f.manager.SubmitJob(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, "4242", sub.JobID)
	assert.Equal(t, "cluster1", sub.Cluster)
	assert.Equal(t, "express", sub.Partition)
	assert.Equal(t, "scitex-uu1", sub.SlurmName)

	args := f.runner.Calls[0].Arguments.Get(0).([]string)
	assert.Equal(t, []string{"--parsable", sub.ScriptFile}, args)

	body, err := os.ReadFile(sub.ScriptFile)
	require.NoError(t, err)
	script := string(body)
	assert.Contains(t, script, "#SBATCH --partition=express\n")
	assert.Contains(t, script, "#SBATCH --cpus-per-task=4\n")
	assert.Contains(t, script, "#SBATCH --mem=8G\n")
	assert.Contains(t, script, "#SBATCH --time=00:30:00\n")
	assert.Contains(t, script, "#SBATCH --comment=scitex:user=u1\n")
	assert.Contains(t, script, "#SBATCH --output="+filepath.Join(f.workspace, OutputDir)+"/slurm-%j.out")
	assert.Contains(t, script, "# fit_model\n")
	assert.NotContains(t, script, "singleton")
	assert.Contains(t, script, "exec /usr/bin/apptainer exec --cleanenv --bind "+f.workspace+":/workspace --pwd /workspace "+
		filepath.Join(f.root, "containers", "python.sif")+" bash /workspace/scripts/run.sh\n")
}

func TestSubmitJobValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, r *SubmitRequest)
		wantErr error
	}{
		{"invalid time limit", func(f *fixture, r *SubmitRequest) { r.TimeLimit = "ten minutes" }, ErrInvalidTimeLimit},
		{"time above partition max", func(f *fixture, r *SubmitRequest) { r.TimeLimit = "02:00:00" }, ErrInvalidTimeLimit},
		{"unknown partition", func(f *fixture, r *SubmitRequest) { r.Partition = "gpu" }, ErrUnknownPartition},
		{"too many cpus", func(f *fixture, r *SubmitRequest) { r.CPUs = 9 }, ErrInvalidRequest},
		{"no cpus", func(f *fixture, r *SubmitRequest) { r.CPUs = 0 }, ErrInvalidRequest},
		{"too much memory", func(f *fixture, r *SubmitRequest) { r.MemoryGB = 64 }, ErrInvalidRequest},
		{"bad user id", func(f *fixture, r *SubmitRequest) { r.UserID = "u1 --wrap" }, ErrInvalidRequest},
		{"missing container", func(f *fixture, r *SubmitRequest) { r.ContainerPath = "r.sif" }, ErrContainerNotFound},
		{"missing script", func(f *fixture, r *SubmitRequest) { r.ScriptPath = "scripts/nope.sh" }, ErrScriptNotFound},
		{"script escapes workspace", func(f *fixture, r *SubmitRequest) { r.ScriptPath = "../../u2/run.sh" }, ErrInvalidRequest},
		{"relative workspace", func(f *fixture, r *SubmitRequest) { r.Workspace = "u1/paper" }, ErrInvalidRequest},
		{"workspace outside root", func(f *fixture, r *SubmitRequest) { r.Workspace = f.root }, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			req := f.request()
			tt.mutate(f, &req)

			_, err := f.manager.SubmitJob(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			f.runner.AssertNotCalled(t, "sbatch", mock.Anything)
		})
	}
}

func TestSubmitJobDefaultsToPartitionLimit(t *testing.T) {
	f := newFixture(t, 0)
	req := f.request()
	req.Partition = ""
	req.TimeLimit = ""

	p, err := f.manager.Prepare(req)
	require.NoError(t, err)
	assert.Equal(t, "normal", p.Partition)
	assert.Equal(t, 24*time.Hour, p.TimeLimit)
}

func TestSubmitJobQuotaExceeded(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("sbatch", mock.Anything).Return(nil, &CommandError{
		Command:  "sbatch",
		ExitCode: 1,
		Stderr:   "sbatch: error: QOSMaxSubmitJobPerUserLimit\nsbatch: error: Batch job submission failed: Job violates accounting/QOS policy",
	})

	_, err := f.manager.SubmitJob(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSubmitJobCommandFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("sbatch", mock.Anything).Return(nil, &CommandError{
		Command:  "sbatch",
		ExitCode: 1,
		Stderr:   "sbatch: error: Batch job submission failed: Invalid partition name specified",
	})

	_, err := f.manager.SubmitJob(context.Background(), f.request())
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
}

func TestSubmitJobPerUserSlots(t *testing.T) {
	f := newFixture(t, 3)
	queue := strings.Join([]string{
		"100|scitex-uu1-s0|RUNNING|normal|1:00|1:00:00|node1|scitex:user=u1",
		"101|scitex-uu1-s0|PENDING|normal|0:00|1:00:00|(Dependency)|scitex:user=u1",
		"102|scitex-uu1-s1|RUNNING|normal|2:00|1:00:00|node2|scitex:user=u1",
		"103|scitex-uu2-s2|RUNNING|normal|2:00|1:00:00|node2|scitex:user=u2",
		"104|someone-else|RUNNING|normal|2:00|1:00:00|node3|",
	}, "\n")
	f.runner.On("squeue", []string{"--noheader", "--format=" + squeueFormat}).Return([]byte(queue), nil)
	f.runner.On("sbatch", mock.Anything).Return([]byte("105\n"), nil)

	sub, err := f.manager.SubmitJob(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, "scitex-uu1-s2", sub.SlurmName)

	body, err := os.ReadFile(sub.ScriptFile)
	require.NoError(t, err)
	assert.Contains(t, string(body), "#SBATCH --job-name=scitex-uu1-s2\n")
	assert.Contains(t, string(body), "#SBATCH --dependency=singleton\n")
}

func TestSubmitJobSlotFallsBackWhenQueueUnavailable(t *testing.T) {
	f := newFixture(t, 2)
	f.runner.On("squeue", mock.Anything).Return(nil, errors.New("squeue: command not found"))
	f.runner.On("sbatch", mock.Anything).Return([]byte("7\n"), nil)

	sub, err := f.manager.SubmitJob(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, "scitex-uu1-s0", sub.SlurmName)
}

func TestGetJobStatusFromQueue(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("squeue", []string{"--noheader", "--jobs=55", "--format=" + squeueFormat}).
		Return([]byte("55|scitex-uu1|RUNNING|normal|5:03|1:00:00|node7|scitex:user=u1\n"), nil).Once()
	f.runner.On("squeue", []string{"--noheader", "--jobs=56", "--format=" + squeueFormat}).
		Return([]byte("56|scitex-uu1-s0|PENDING|normal|0:00|1:00:00|(Dependency)|scitex:user=u1\n"), nil).Once()

	status, err := f.manager.GetJobStatus(context.Background(), "55")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, "node7", status.NodeList)
	assert.Equal(t, "squeue", status.Source)

	status, err = f.manager.GetJobStatus(context.Background(), "56")
	require.NoError(t, err)
	assert.Equal(t, StatePending, status.State)
	assert.Equal(t, "Dependency", status.Reason)
}

func TestGetJobStatusFallsBackToAccounting(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("squeue", mock.Anything).Return(nil, &CommandError{
		Command: "squeue", ExitCode: 1, Stderr: "slurm_load_jobs error: Invalid job id specified",
	})
	f.runner.On("sacct", []string{"--noheader", "--parsable2", "--jobs=77", "--format=" + sacctFormat}).Return([]byte(
		"77|scitex-uu1|CANCELLED by 1000|0:15|00:01:02|node3\n"+
			"77.batch|batch|CANCELLED|0:15|00:01:02|node3\n"+
			"77.extern|extern|COMPLETED|0:0|00:01:02|node3\n"), nil)

	status, err := f.manager.GetJobStatus(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, status.State)
	assert.Equal(t, "sacct", status.Source)
	assert.Equal(t, "00:01:02", status.Elapsed)
	assert.True(t, IsTerminal(status.State))
}

func TestGetJobStatusEmptyQueueFallsBack(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("squeue", mock.Anything).Return([]byte(""), nil)
	f.runner.On("sacct", mock.Anything).Return([]byte("78|scitex-uu1|FAILED|3:0|00:00:09|node1\n"), nil)

	status, err := f.manager.GetJobStatus(context.Background(), "78")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 3, status.ExitCode)
}

func TestGetJobStatusNotFound(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("squeue", mock.Anything).Return([]byte(""), nil)
	f.runner.On("sacct", mock.Anything).Return([]byte(""), nil)

	_, err := f.manager.GetJobStatus(context.Background(), "79")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = f.manager.GetJobStatus(context.Background(), "79; rm -rf /")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("scancel", []string{"90"}).Return([]byte(""), nil)
	f.runner.On("scancel", []string{"91"}).Return(nil, &CommandError{
		Command: "scancel", ExitCode: 1, Stderr: "scancel: error: Kill job error on job id 91: Invalid job id specified",
	})

	require.NoError(t, f.manager.CancelJob(context.Background(), "90"))
	assert.ErrorIs(t, f.manager.CancelJob(context.Background(), "91"), ErrJobNotFound)
}

func TestGetJobOutput(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.manager.GetJobOutput(context.Background(), "12", f.workspace)
	assert.ErrorIs(t, err, ErrOutputNotFound)

	stdoutPath, stderrPath := OutputPaths(f.workspace, "12")
	require.NoError(t, os.MkdirAll(filepath.Dir(stdoutPath), 0o755))
	require.NoError(t, os.WriteFile(stdoutPath, []byte("line one\nline two\nline three\n"), 0o644))

	out, err := f.manager.GetJobOutput(context.Background(), "12", f.workspace)
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, " two\nline three\n", out.Stdout)
	assert.Empty(t, out.Stderr)

	require.NoError(t, os.WriteFile(stderrPath, []byte("warn\n"), 0o644))
	out, err = f.manager.GetJobOutput(context.Background(), "12", f.workspace)
	require.NoError(t, err)
	assert.Equal(t, "warn\n", out.Stderr)
}

func TestListQueue(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.On("squeue", mock.Anything).Return([]byte(
		"1|scitex-uu1|RUNNING|normal|1:00|1:00:00|node1|scitex:user=u1\n"+
			"2|scitex-uu2|PENDING|long|0:00|7-00:00:00|(Resources)|scitex:user=u2\n"+
			"3|other|RUNNING|normal|1:00|1:00:00|node1|(null)\n"), nil)

	mine, err := f.manager.ListQueue(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "1", mine[0].JobID)

	all, err := f.manager.ListQueue(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Resources", all[1].Reason)
}
