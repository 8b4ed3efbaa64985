// Package server provides the HTTP server of the SciTeX compute gateway.
//
// The server routes with gorilla/mux and wraps the router with the
// gorilla/handlers proxy header, panic recovery and access log handlers.
//
// # Server Setup
//
//	srv := server.NewServer(log, "0.0.0.0", "8000")
//	srv.Jobs = jobs.NewService(...)
//	endpoints.RegisterAll(srv)
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Components
//
// The Server struct holds:
//
//   - Router: HTTP request router
//   - UsersStore, ProjectsStore, JobsStore, HealthStore: persistence
//   - Jobs: the job service that picks SLURM or the task queue
//   - Tasks and Broker: the task dispatcher and its broker
//   - Authenticators, APIKeys, Tokens, Auth: request authentication
//   - Audit: audit log
//
// # Endpoints
//
// API endpoints are registered via the endpoints subpackage:
//
//	endpoints.RegisterAll(srv)
//
// This registers:
//
//   - /code/api/jobs/... - job submission, status, cancel, output and queue
//   - /code/api/tasks/... - public task enqueue and results
//   - /code/api/projects/... - project creation and deletion
//   - /code/api/auth/token - API key to access token exchange
//   - / and /health - version and health checks
package server
