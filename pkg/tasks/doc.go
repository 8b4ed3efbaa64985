// Package tasks is the asynchronous task tier: a routing table from task
// names to queues with per-task rate limits, a broker holding the queues and
// results (Redis, or memory for development), a Dispatcher publishing tasks
// and a Worker pool running registered handlers.
//
// Message states follow Celery: PENDING, STARTED, RETRY, SUCCESS, FAILURE
// and REVOKED.
package tasks
