// Package store provides storage abstractions for the gateway server.
//
// Endpoints, the job service and the auth middleware depend on these
// interfaces rather than on gorm, so they can be tested with mocks.
// The gorm implementations live in pkg/server/store/gorm.
//
// # Available Stores
//
//   - UsersStore: users and their API keys
//   - ProjectsStore: projects owned by users
//   - JobsStore: submitted jobs and their tracked state
//   - HealthStore: database connectivity
//
// # Usage
//
//	jobs := gormstore.NewJobsStore(db)
//	job, err := jobs.GetJob(ctx, id)
//	if errors.Is(err, store.ErrNotFound) {
//	    // Handle not found
//	}
package store
