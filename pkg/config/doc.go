// Package config provides configuration management for the SciTeX job gateway.
//
// Configuration is assembled from defaults, an optional YAML file at
// $SCITEX_CONFIG_PATH/scitex.yml (default /etc/scitex/scitex.yml) and
// environment variables, in increasing order of precedence. Each attribute
// remembers which of the three it came from.
//
// # Key Configuration Options
//
//   - SLURM_NODE_CPUS: CPUs per compute node, the upper bound of a request
//   - SLURM_PARTITION_<NAME>_TIME: maximum wall time of a partition
//   - SLURM_MAX_JOBS_PER_USER / SLURM_MAX_SUBMIT_PER_USER: per-user limits
//   - CELERY_BROKER_URL: task broker (redis:// or memory://)
//   - GITEA_URL / GITEA_TOKEN: Gitea admin API
//   - SCITEX_LOG_LEVEL / SCITEX_LOG_FORMAT: logging
//
// The file can be watched with Watch; task routes, quotas and async
// thresholds follow reloads, node and partition settings need a restart.
package config
