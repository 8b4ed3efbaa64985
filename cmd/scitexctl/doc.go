// Command scitexctl runs and administers the SciTeX Cloud job gateway.
//
// The gateway accepts script runs over REST and sends each one either to
// SLURM or to the light compute task queue, keeps their state in
// PostgreSQL and mirrors users and projects to Gitea.
//
// # Quick Start
//
//	# Run database migrations
//	scitexctl db migrate
//
//	# Create a user and an API key
//	scitexctl user create alice alice@example.org
//	scitexctl apikey create alice --name laptop
//
//	# Start the API server and a worker
//	scitexctl server
//	scitexctl worker --queues compute_light,sync
//
//	# Submit a job as a client
//	export SCITEX_API_KEY=stx_...
//	scitexctl job submit --script analysis.sh --workspace /var/lib/scitex/workspaces/alice/paper
//
// # Environment Variables
//
//   - DATABASE_URL: PostgreSQL connection string
//   - SCITEX_CONFIG_PATH: directory holding scitex.yml (default /etc/scitex)
//   - CELERY_BROKER_URL: task broker, redis:// or memory://
//   - SCITEX_JWT_SECRET: signing secret of access tokens
//   - GITEA_URL, GITEA_TOKEN: Gitea admin API
//   - PORT, BIND_ADDRESS: server listen address
//   - SCITEX_SERVER, SCITEX_API_KEY: server and credentials of the job commands
package main
