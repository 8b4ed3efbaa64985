package endpoints

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
)

// SubmitResponse is the body of a successful submission
type SubmitResponse struct {
	Success    bool   `json:"success"`
	JobID      string `json:"job_id"`
	Backend    string `json:"backend"`
	State      string `json:"state"`
	SlurmJobID string `json:"slurm_job_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Queue      string `json:"queue,omitempty"`
}

// JobResponse wraps a job record in the success envelope
type JobResponse struct {
	Success bool `json:"success"`
	*model.Job
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// OutputResponse is the body of GET .../output/
type OutputResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated"`
}

// QueueResponse lists the caller's unfinished jobs
type QueueResponse struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Jobs    []model.Job `json:"jobs"`
}

// RegisterJobsEndpoints registers the job endpoints
func RegisterJobsEndpoints(s *server.Server) {
	r := protectedRouter(s, "/jobs")

	r.HandleFunc("/submit/", handleSubmitJob(s)).Methods("POST")
	r.HandleFunc("/queue/", handleJobQueue(s)).Methods("GET")
	r.HandleFunc("/{job_id}/status/", handleJobStatus(s)).Methods("GET")
	r.HandleFunc("/{job_id}/cancel/", handleCancelJob(s)).Methods("POST")
	r.HandleFunc("/{job_id}/output/", handleJobOutput(s)).Methods("GET")
}

func handleSubmitJob(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		event := audit.JobEvent{UserID: caller.UserID, ClientIP: middleware.ClientIP(r), Operation: "submit"}

		var req jobs.SubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}

		job, err := s.Jobs.Submit(r.Context(), caller, req)
		if err != nil {
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			respondWithFailure(w, s.Log, err)
			return
		}

		event.JobID = job.ID.String()
		event.Backend = job.Backend
		event.Success = true
		s.Audit.Log(event)
		s.Log.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"user":     caller.Username,
			"backend":  job.Backend,
			"slurm_id": job.SlurmJobID,
			"task_id":  job.TaskID,
		}).Info("job submitted")

		respondWithJSON(w, http.StatusOK, SubmitResponse{
			Success:    true,
			JobID:      job.ID.String(),
			Backend:    job.Backend,
			State:      job.State,
			SlurmJobID: job.SlurmJobID,
			TaskID:     job.TaskID,
			Queue:      job.Queue,
		})
	}
}

func handleJobStatus(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		job, err := s.Jobs.Status(r.Context(), caller, mux.Vars(r)["job_id"])
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		respondWithJSON(w, http.StatusOK, JobResponse{
			Success:        true,
			Job:            job,
			ElapsedSeconds: jobs.Duration(job, time.Now()).Seconds(),
		})
	}
}

func handleCancelJob(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		jobID := mux.Vars(r)["job_id"]
		event := audit.JobEvent{UserID: caller.UserID, ClientIP: middleware.ClientIP(r), JobID: jobID, Operation: "cancel"}

		job, err := s.Jobs.Cancel(r.Context(), caller, jobID)
		if err != nil {
			if job != nil {
				event.Backend = job.Backend
			}
			event.ErrorMessage = err.Error()
			s.Audit.Log(event)
			if errors.Is(err, jobs.ErrAlreadyFinished) && job != nil {
				respondWithJSON(w, http.StatusConflict, map[string]interface{}{
					"success": false,
					"error":   err.Error(),
					"job_id":  job.ID,
					"state":   job.State,
				})
				return
			}
			respondWithFailure(w, s.Log, err)
			return
		}

		event.Backend = job.Backend
		event.Success = true
		s.Audit.Log(event)
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"job_id":  job.ID,
			"state":   job.State,
		})
	}
}

func handleJobOutput(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		jobID := mux.Vars(r)["job_id"]
		out, err := s.Jobs.Output(r.Context(), caller, jobID)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		respondWithJSON(w, http.StatusOK, OutputResponse{
			Success:   true,
			JobID:     jobID,
			Stdout:    out.Stdout,
			Stderr:    out.Stderr,
			Truncated: out.Truncated,
		})
	}
}

func handleJobQueue(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identity.MustGet(r.Context())
		active, err := s.Jobs.Queue(r.Context(), caller)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}
		respondWithJSON(w, http.StatusOK, QueueResponse{Success: true, Count: len(active), Jobs: active})
	}
}
