package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// PublicTasks are the task patterns clients may enqueue directly. Script
// runs go through the jobs endpoints and gitea tasks are internal.
var PublicTasks = []string{"writer.*", "scholar.*"}

// EnqueueResponse is the body of POST /code/api/tasks/{task}/
type EnqueueResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Task    string `json:"task"`
	Queue   string `json:"queue"`
}

// TaskResultResponse is the body of GET /code/api/tasks/{task_id}/result/
type TaskResultResponse struct {
	Success bool            `json:"success"`
	TaskID  string          `json:"task_id"`
	Task    string          `json:"task"`
	State   string          `json:"state"`
	Ready   bool            `json:"ready"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Retries int             `json:"retries"`
}

// RegisterTasksEndpoints registers the task endpoints
func RegisterTasksEndpoints(s *server.Server) {
	r := protectedRouter(s, "/tasks")

	r.HandleFunc("/{task_id}/result/", handleTaskResult(s)).Methods("GET")
	r.HandleFunc("/{task}/", handleEnqueueTask(s)).Methods("POST")
}

func isPublicTask(task string) bool {
	for _, pattern := range PublicTasks {
		if ok, _ := path.Match(pattern, task); ok {
			return true
		}
	}
	return false
}

func handleEnqueueTask(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		task := mux.Vars(r)["task"]
		event := audit.TaskEvent{UserID: caller.UserID, ClientIP: middleware.ClientIP(r), Task: task}

		if !isPublicTask(task) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("unknown task %q", task))
			return
		}

		opts, err := enqueueOptions(r)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}

		args := map[string]interface{}{}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &args); err != nil {
				respondWithFailure(w, s.Log, err)
				return
			}
		}
		if err := scopeTaskArgs(r, s, caller, args); err != nil {
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			respondWithFailure(w, s.Log, err)
			return
		}

		msg, err := s.Tasks.ApplyAsync(r.Context(), task, args, opts)
		if err != nil {
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			respondWithFailure(w, s.Log, err)
			return
		}

		event.TaskID = msg.ID
		event.Queue = msg.Queue
		event.Success = true
		s.Audit.Log(event)
		respondWithJSON(w, http.StatusAccepted, EnqueueResponse{Success: true, TaskID: msg.ID, Task: task, Queue: msg.Queue})
	}
}

// maxCountdown bounds the countdown query parameter.
const maxCountdown = 24 * time.Hour

// enqueueOptions reads the optional countdown query parameter, in seconds
// or as a duration such as "90s".
func enqueueOptions(r *http.Request) (tasks.Options, error) {
	raw := r.URL.Query().Get("countdown")
	if raw == "" {
		return tasks.Options{}, nil
	}
	countdown, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.Atoi(raw)
		if serr != nil {
			return tasks.Options{}, fmt.Errorf("%w: invalid countdown %q", errBadBody, raw)
		}
		countdown = time.Duration(secs) * time.Second
	}
	if countdown < 0 || countdown > maxCountdown {
		return tasks.Options{}, fmt.Errorf("%w: countdown must be between 0 and %s", errBadBody, maxCountdown)
	}
	return tasks.Options{Countdown: countdown}, nil
}

// scopeTaskArgs stamps the caller on the arguments and confines any
// workspace to the caller's home. A project_id without a workspace is
// resolved to the project's workspace.
func scopeTaskArgs(r *http.Request, s *server.Server, caller *identity.Identity, args map[string]interface{}) error {
	args["user_id"] = caller.UserID

	var root string
	if s.Jobs != nil {
		root = s.Jobs.Limits().WorkspaceRoot
	}

	if raw, ok := args["project_id"]; ok {
		id, err := uuid.Parse(fmt.Sprint(raw))
		if err != nil {
			return fmt.Errorf("%w: invalid project_id", errBadBody)
		}
		project, err := s.ProjectsStore.GetProject(r.Context(), id)
		if err != nil {
			return err
		}
		if !caller.Owns(project.OwnerID.String()) {
			return fmt.Errorf("%w: project %s belongs to another user", jobs.ErrForbidden, id)
		}
		if _, ok := args["workspace"]; !ok && root != "" {
			args["workspace"] = jobs.ProjectWorkspace(root, caller.Username, project.Slug)
		}
	}

	if raw, ok := args["workspace"]; ok {
		ws, isString := raw.(string)
		if !isString {
			return fmt.Errorf("%w: workspace must be a string", errBadBody)
		}
		if err := jobs.CheckWorkspace(root, caller.Username, ws); err != nil {
			return err
		}
	}
	return nil
}

func handleTaskResult(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		taskID := mux.Vars(r)["task_id"]

		// Results of job tasks are only shown to the job's owner.
		if s.JobsStore != nil {
			job, err := s.JobsStore.GetJobByTaskID(r.Context(), taskID)
			switch {
			case err == nil && !caller.Owns(job.UserID.String()):
				respondWithFailure(w, s.Log, fmt.Errorf("%w: task belongs to another user", jobs.ErrForbidden))
				return
			case err != nil && !errors.Is(err, store.ErrNotFound):
				respondWithFailure(w, s.Log, err)
				return
			}
		}

		res, err := s.Tasks.Result(r.Context(), taskID)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		respondWithJSON(w, http.StatusOK, TaskResultResponse{
			Success: true,
			TaskID:  res.ID,
			Task:    res.Task,
			State:   res.State,
			Ready:   res.Ready(),
			Result:  res.Result,
			Error:   res.Error,
			Retries: res.Retries,
		})
	}
}
