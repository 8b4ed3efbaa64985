// Package gitea mirrors SciTeX users and projects to Gitea.
//
// Model hooks fire signals; the receivers connected by Connect turn them
// into gitea.* tasks on the sync queue, and the task handlers call the
// Gitea admin API through a Client guarded by a circuit breaker. Creating
// something that already exists and deleting something already gone both
// count as success, so tasks can be retried freely.
package gitea
