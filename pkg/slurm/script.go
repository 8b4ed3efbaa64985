package slurm

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"text/template"
)

// OutputDir is the workspace subdirectory holding batch scripts and the
// stdout/stderr files SLURM writes for each job.
const OutputDir = ".slurm"

// containerWorkdir is where the workspace is mounted inside the container.
const containerWorkdir = "/workspace"

var batchTemplate = template.Must(template.New("sbatch").Funcs(template.FuncMap{
	"quote": shellQuote,
}).Parse(`#!/bin/bash
#SBATCH --job-name={{.SlurmName}}
#SBATCH --partition={{.Partition}}
#SBATCH --nodes=1
#SBATCH --ntasks=1
#SBATCH --cpus-per-task={{.CPUs}}
#SBATCH --mem={{.MemoryGB}}G
#SBATCH --time={{.Time}}
#SBATCH --output={{.OutDir}}/slurm-%j.out
#SBATCH --error={{.OutDir}}/slurm-%j.err
#SBATCH --comment={{.Comment}}
{{- if .Singleton}}
#SBATCH --dependency=singleton
{{- end}}

# {{.JobName}}
set -euo pipefail
cd {{quote .Workspace}}
exec{{range .Command}} {{quote .}}{{end}}
`))

type batchData struct {
	*Prepared
	SlurmName string
	Time      string
	OutDir    string
	Comment   string
	Singleton bool
	Command   []string
}

// ContainerCommand is the command line that runs the prepared script in its
// container with the workspace mounted read-write at /workspace.
func (p *Prepared) ContainerCommand(apptainerBin string) []string {
	return []string{
		apptainerBin, "exec",
		"--cleanenv",
		"--bind", p.Workspace + ":" + containerWorkdir,
		"--pwd", containerWorkdir,
		p.Container,
		"bash", path.Join(containerWorkdir, p.ScriptRel),
	}
}

func renderBatchScript(p *Prepared, slurmName string, singleton bool, apptainerBin string) ([]byte, error) {
	var buf bytes.Buffer
	err := batchTemplate.Execute(&buf, batchData{
		Prepared:  p,
		SlurmName: slurmName,
		Time:      FormatTimeLimit(p.TimeLimit),
		OutDir:    path.Join(p.Workspace, OutputDir),
		Comment:   userComment(p.UserID),
		Singleton: singleton,
		Command:   p.ContainerCommand(apptainerBin),
	})
	if err != nil {
		return nil, fmt.Errorf("render batch script: %w", err)
	}
	return buf.Bytes(), nil
}

func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
