package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// Task names handled by this package.
const (
	TaskRunScript    = "code.run_script"
	TaskCompileLatex = "writer.compile_latex"
)

// taskOutputDir holds the output of jobs run on the task backend.
const taskOutputDir = ".scitex"

// RunScriptArgs are the arguments of a code.run_script task.
type RunScriptArgs struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	Workspace string `json:"workspace"`
	ScriptRel string `json:"script"`
	Container string `json:"container"`
	CPUs      int    `json:"cpus"`
	MemoryGB  int    `json:"memory_gb"`
	// TimeLimit is in seconds.
	TimeLimit int `json:"time_limit"`
}

// RunScriptResult is the result of a code.run_script task.
type RunScriptResult struct {
	ExitCode int     `json:"exit_code"`
	TimedOut bool    `json:"timed_out,omitempty"`
	Seconds  float64 `json:"seconds"`
}

// CompileLatexArgs are the arguments of a writer.compile_latex task.
type CompileLatexArgs struct {
	UserID    string `json:"user_id"`
	Workspace string `json:"workspace"`
	MainFile  string `json:"main_file"`
	// Container optionally runs latexmk inside an image.
	Container string `json:"container,omitempty"`
}

// CompileLatexResult is the result of a writer.compile_latex task.
type CompileLatexResult struct {
	ExitCode int    `json:"exit_code"`
	PDF      string `json:"pdf,omitempty"`
	Log      string `json:"log,omitempty"`
}

// TaskOutputPaths returns the stdout and stderr files of a task job.
func TaskOutputPaths(workspace, jobID string) (stdout, stderr string) {
	dir := filepath.Join(workspace, taskOutputDir)
	return filepath.Join(dir, "task-"+jobID+".out"), filepath.Join(dir, "task-"+jobID+".err")
}

// Executor runs a command with its output going to the given writers and
// returns the exit code. A failure to start the command is an error.
type Executor interface {
	Exec(ctx context.Context, dir string, stdout, stderr io.Writer, name string, args ...string) (int, error)
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct{}

func (OSExecutor) Exec(ctx context.Context, dir string, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// Handlers executes the tasks of this package on a worker host.
type Handlers struct {
	Exec          Executor
	ApptainerBin  string
	LatexmkBin    string
	WorkspaceRoot string
	Log           logrus.FieldLogger
}

// Register adds the handlers to w.
func (h *Handlers) Register(w *tasks.Worker) {
	w.Register(TaskRunScript, h.RunScript)
	w.Register(TaskCompileLatex, h.CompileLatex)
}

// RunScript runs the job script in its container, writing stdout and stderr
// to the task output files of the job. A non-zero exit is a result, not an
// error; errors are for runs that could not be started.
func (h *Handlers) RunScript(ctx context.Context, msg *tasks.Message) (any, error) {
	var args RunScriptArgs
	if err := msg.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if args.JobID == "" || args.ScriptRel == "" || args.Container == "" {
		return nil, fmt.Errorf("%w: job_id, script and container are required", slurm.ErrInvalidRequest)
	}
	if err := h.checkWorkspace(args.Workspace); err != nil {
		return nil, err
	}

	stdoutPath, stderrPath := TaskOutputPaths(args.Workspace, args.JobID)
	if err := os.MkdirAll(filepath.Dir(stdoutPath), 0o755); err != nil {
		return nil, err
	}
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stderr.Close() }()

	if args.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeLimit)*time.Second)
		defer cancel()
	}

	p := &slurm.Prepared{Workspace: args.Workspace, ScriptRel: args.ScriptRel, Container: args.Container}
	command := p.ContainerCommand(h.apptainer())

	start := time.Now()
	code, err := h.Exec.Exec(ctx, args.Workspace, stdout, stderr, command[0], command[1:]...)
	result := RunScriptResult{ExitCode: code, Seconds: time.Since(start).Seconds()}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	h.Log.WithFields(logrus.Fields{
		"job_id":    args.JobID,
		"exit_code": code,
	}).Info("script finished")
	return result, nil
}

// CompileLatex builds the PDF of a manuscript with latexmk.
func (h *Handlers) CompileLatex(ctx context.Context, msg *tasks.Message) (any, error) {
	var args CompileLatexArgs
	if err := msg.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if err := h.checkWorkspace(args.Workspace); err != nil {
		return nil, err
	}
	main := args.MainFile
	if main == "" {
		main = "main.tex"
	}
	main = filepath.Clean(main)
	if filepath.IsAbs(main) || main == ".." || strings.HasPrefix(main, ".."+string(filepath.Separator)) || filepath.Ext(main) != ".tex" {
		return nil, fmt.Errorf("%w: main_file must be a .tex file inside the workspace", slurm.ErrInvalidRequest)
	}
	if _, err := os.Stat(filepath.Join(args.Workspace, main)); err != nil {
		return nil, fmt.Errorf("%w: %s", slurm.ErrScriptNotFound, main)
	}

	latexmk := h.LatexmkBin
	if latexmk == "" {
		latexmk = "latexmk"
	}
	command := []string{latexmk, "-pdf", "-interaction=nonstopmode", "-halt-on-error", main}
	if args.Container != "" {
		command = append([]string{h.apptainer(), "exec", "--cleanenv",
			"--bind", args.Workspace + ":/workspace", "--pwd", "/workspace", args.Container}, command...)
	}

	var output strings.Builder
	code, err := h.Exec.Exec(ctx, args.Workspace, &output, &output, command[0], command[1:]...)
	if err != nil {
		return nil, err
	}

	result := CompileLatexResult{ExitCode: code, Log: tail(output.String(), 4096)}
	if code == 0 {
		result.PDF = strings.TrimSuffix(main, ".tex") + ".pdf"
	}
	return result, nil
}

func (h *Handlers) apptainer() string {
	if h.ApptainerBin == "" {
		return "apptainer"
	}
	return h.ApptainerBin
}

func (h *Handlers) checkWorkspace(ws string) error {
	if ws == "" || !filepath.IsAbs(ws) {
		return fmt.Errorf("%w: workspace must be an absolute path", slurm.ErrInvalidRequest)
	}
	ws = filepath.Clean(ws)
	if h.WorkspaceRoot != "" {
		rel, err := filepath.Rel(filepath.Clean(h.WorkspaceRoot), ws)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: workspace is outside %s", slurm.ErrInvalidRequest, h.WorkspaceRoot)
		}
	}
	info, err := os.Stat(ws)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: workspace %s does not exist", slurm.ErrInvalidRequest, ws)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
