package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
)

// CreateProjectRequest is the body of POST /code/api/projects/
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
}

// ProjectResponse wraps a project in the success envelope
type ProjectResponse struct {
	Success bool `json:"success"`
	*model.Project
	Workspace string `json:"workspace,omitempty"`
}

// RegisterProjectsEndpoints registers the project endpoints
func RegisterProjectsEndpoints(s *server.Server) {
	r := protectedRouter(s, "/projects")

	r.HandleFunc("/", handleCreateProject(s)).Methods("POST")
	r.HandleFunc("/{project_id}/", handleGetProject(s)).Methods("GET")
	r.HandleFunc("/{project_id}/", handleDeleteProject(s)).Methods("DELETE")
}

func handleCreateProject(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		event := audit.ProjectEvent{UserID: caller.UserID, ClientIP: middleware.ClientIP(r), Operation: "create"}

		var req CreateProjectRequest
		if err := decodeJSON(r, &req); err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		slug := model.Slugify(req.Name)
		if slug == "" {
			respondWithFailure(w, s.Log, fmt.Errorf("%w: name must contain letters or digits", errBadBody))
			return
		}
		ownerID, err := uuid.Parse(caller.UserID)
		if err != nil {
			respondWithFailure(w, s.Log, fmt.Errorf("%w: caller has no valid user id", jobs.ErrForbidden))
			return
		}

		project := &model.Project{
			OwnerID:     ownerID,
			Name:        req.Name,
			Slug:        slug,
			Description: req.Description,
			Private:     req.Private,
		}
		event.Slug = slug
		if err := s.ProjectsStore.CreateProject(r.Context(), project); err != nil {
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			respondWithFailure(w, s.Log, err)
			return
		}

		workspace := projectWorkspace(s, caller, project)
		if workspace != "" {
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				s.Log.WithError(err).WithField("workspace", workspace).Warn("could not create project workspace")
			}
		}

		event.ProjectID = project.ID.String()
		event.Success = true
		s.Audit.Log(event)
		respondWithJSON(w, http.StatusCreated, ProjectResponse{Success: true, Project: project, Workspace: workspace})
	}
}

func handleGetProject(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		project, err := ownedProject(r, s, caller)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		respondWithJSON(w, http.StatusOK, ProjectResponse{Success: true, Project: project, Workspace: projectWorkspace(s, caller, project)})
	}
}

// handleDeleteProject removes the project record and, through its signal,
// the Gitea repository. The workspace directory is left in place.
func handleDeleteProject(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		event := audit.ProjectEvent{UserID: caller.UserID, ClientIP: middleware.ClientIP(r), Operation: "delete", ProjectID: mux.Vars(r)["project_id"]}

		project, err := ownedProject(r, s, caller)
		if err == nil {
			event.Slug = project.Slug
			err = s.ProjectsStore.DeleteProject(r.Context(), project)
		}
		if err != nil {
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			respondWithFailure(w, s.Log, err)
			return
		}

		event.Success = true
		s.Audit.Log(event)
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "project_id": project.ID})
	}
}

func ownedProject(r *http.Request, s *server.Server, caller *identity.Identity) (*model.Project, error) {
	raw := mux.Vars(r)["project_id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid project id %q", errBadBody, raw)
	}
	project, err := s.ProjectsStore.GetProject(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(project.OwnerID.String()) {
		return nil, fmt.Errorf("%w: project %s belongs to another user", jobs.ErrForbidden, raw)
	}
	return project, nil
}

func projectWorkspace(s *server.Server, caller *identity.Identity, project *model.Project) string {
	if s.Jobs == nil {
		return ""
	}
	root := s.Jobs.Limits().WorkspaceRoot
	if root == "" {
		return ""
	}
	return jobs.ProjectWorkspace(root, caller.Username, project.Slug)
}
