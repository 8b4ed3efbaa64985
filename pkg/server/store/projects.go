package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
)

// ProjectsStore abstracts project storage operations
type ProjectsStore interface {
	// CreateProject inserts a project. Returns ErrConflict if the owner
	// already has a project with the same slug.
	CreateProject(ctx context.Context, project *model.Project) error

	// GetProject returns a project by id
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)

	// DeleteProject deletes a project
	DeleteProject(ctx context.Context, project *model.Project) error
}
