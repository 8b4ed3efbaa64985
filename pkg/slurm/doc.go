// Package slurm wraps the SLURM command line tools used to run user scripts
// on the compute cluster.
//
// A job is a user script executed inside an Apptainer container with the
// user's workspace bind-mounted at /workspace. Manager validates the request
// against the configured node size and partition limits, writes a batch
// script into <workspace>/.slurm and submits it with sbatch. Status comes
// from squeue while the job is known to slurmctld and from sacct afterwards.
// SLURM itself redirects the job's stdout and stderr into
// <workspace>/.slurm/slurm-<jobid>.out and .err.
//
// Scheduling, fairness and accounting are SLURM's. The only policy added
// here is the per-user run limit: each user's jobs are spread over
// MaxJobsPerUser job names submitted with --dependency=singleton, so that
// further jobs stay PENDING until a slot frees up.
package slurm
