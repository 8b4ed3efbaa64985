// Package audit records security relevant gateway operations.
//
// Events are written as RFC5424 syslog lines and can additionally be
// persisted to the audit_messages table:
//
//   - authentication with an API key or access token
//   - job submission and cancellation
//   - tasks enqueued through the API
//   - project creation and deletion
//   - API key creation
//
// # Usage
//
//	auditor := audit.NewLogger(os.Stdout).WithStore(store)
//	auditor.Log(audit.JobEvent{UserID: id, JobID: job.ID, Operation: "submit", Success: true})
package audit
