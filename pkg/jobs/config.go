package jobs

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/config"
	"github.com/scitex/scitex-cloud/pkg/slurm"
)

// Limits are the routing thresholds and quotas of the service.
type Limits struct {
	AsyncMaxCPUs     int
	AsyncMaxMemoryGB int
	AsyncMaxTime     time.Duration
	MaxSubmitPerUser int
	WorkspaceRoot    string
	MaxOutputBytes   int64
}

// LimitsFromConfig reads the limits out of cfg.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		AsyncMaxCPUs:     cfg.AsyncMaxCPUs,
		AsyncMaxMemoryGB: cfg.AsyncMaxMemoryGB,
		AsyncMaxTime:     cfg.AsyncMaxDuration(),
		MaxSubmitPerUser: cfg.MaxSubmitPerUser,
		WorkspaceRoot:    cfg.WorkspaceRoot,
		MaxOutputBytes:   cfg.MaxOutputBytes,
	}
}

// ManagerFromConfig builds a SLURM manager running the CLI tools found in
// cfg.SlurmBinDir.
func ManagerFromConfig(cfg *config.Config, log logrus.FieldLogger) (*slurm.Manager, error) {
	partitions, err := cfg.PartitionLimits()
	if err != nil {
		return nil, err
	}
	return slurm.NewManager(&slurm.ExecRunner{BinDir: cfg.SlurmBinDir}, slurm.Options{
		NodeCPUs:         cfg.SlurmNodeCPUs,
		MaxMemoryGB:      cfg.SlurmMaxMemoryGB,
		Partitions:       partitions,
		DefaultPartition: cfg.SlurmDefaultPartition,
		MaxJobsPerUser:   cfg.MaxJobsPerUser,
		ApptainerBin:     cfg.ApptainerBin,
		ContainerDir:     cfg.ContainerDir,
		WorkspaceRoot:    cfg.WorkspaceRoot,
		MaxOutputBytes:   cfg.MaxOutputBytes,
	}, log.WithField("component", "slurm"))
}
