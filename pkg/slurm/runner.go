package slurm

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
)

// Runner executes a SLURM (or container runtime) command line.
type Runner interface {
	// Run executes name with args. A non-zero exit status is reported as a
	// *CommandError; failures to start the process are returned as is.
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

// ExecRunner runs commands with os/exec, resolving SLURM binaries in BinDir
// when it is set.
type ExecRunner struct {
	BinDir string
	// Dir is the working directory of the command, if set.
	Dir string
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path := name
	if r.BinDir != "" && !filepath.IsAbs(name) {
		path = filepath.Join(r.BinDir, name)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &CommandError{
			Command:  name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}
	if err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
