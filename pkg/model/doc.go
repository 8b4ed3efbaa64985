// Package model defines the GORM models of the gateway database.
//
// # Models
//
//   - User: a SciTeX account, mirrored to a Gitea user
//   - APIKey: a hashed API key belonging to a user
//   - Project: a research project with a workspace and a Gitea repository
//   - Job: a script run on SLURM or on the light compute queue
//
// Creating or deleting a User or Project sends a signal through the
// dispatcher carried on the statement context (see package signals), which
// is how Gitea mirroring is triggered.
package model
