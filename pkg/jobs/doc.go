// Package jobs decides where a script run goes and tracks it afterwards.
//
// A submission is validated once by the SLURM wrapper and then sent to one
// of two backends:
//
//   - slurm: heavy or long runs, or any request naming a partition or
//     backend=slurm, become sbatch jobs
//   - task: runs within the async thresholds become code.run_script tasks
//     on the light compute queue and execute on a worker host
//
// Either way the run is recorded as a model.Job whose id is the job_id the
// API hands out. Status refreshes the record from squeue/sacct or from the
// task result, and the Poller does the same for every active job in the
// background.
package jobs
