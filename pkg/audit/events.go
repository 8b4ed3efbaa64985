package audit

import "fmt"

// AuthenticateEvent records an API key or access token check.
type AuthenticateEvent struct {
	UserID       string
	ClientIP     string
	Method       string // "api-key" or "token"
	Success      bool
	ErrorMessage string
}

func (e AuthenticateEvent) MessageID() string {
	return "authn"
}

func (e AuthenticateEvent) Message() string {
	user := e.UserID
	if user == "" {
		user = "unknown user"
	}
	if e.Success {
		return fmt.Sprintf("%s successfully authenticated with %s", user, e.Method)
	}
	return withError(fmt.Sprintf("%s failed to authenticate with %s", user, e.Method), e.ErrorMessage)
}

func (e AuthenticateEvent) Severity() Severity {
	return severity(e.Success)
}

func (e AuthenticateEvent) Facility() int {
	return FacilityAuthPriv
}

func (e AuthenticateEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDAuth: {
			"method": e.Method,
			"user":   e.UserID,
		},
		SDIDClient: {
			"ip": e.ClientIP,
		},
		SDIDAction: {
			"operation": "authenticate",
			"result":    result(e.Success),
		},
	}
}

// JobEvent records a job submission or cancellation.
type JobEvent struct {
	UserID       string
	ClientIP     string
	JobID        string
	Backend      string
	Operation    string // "submit" or "cancel"
	Success      bool
	ErrorMessage string
}

func (e JobEvent) MessageID() string {
	return "job"
}

func (e JobEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("%s %s job %s on %s", e.UserID, pastTense(e.Operation), e.JobID, e.Backend)
	}
	target := "a job"
	if e.JobID != "" {
		target = "job " + e.JobID
	}
	return withError(fmt.Sprintf("%s tried to %s %s", e.UserID, e.Operation, target), e.ErrorMessage)
}

func (e JobEvent) Severity() Severity {
	return severity(e.Success)
}

func (e JobEvent) Facility() int {
	return FacilityUser
}

func (e JobEvent) StructuredData() map[string]map[string]string {
	sd := map[string]map[string]string{
		SDIDAuth: {
			"user": e.UserID,
		},
		SDIDSubject: {
			"job": e.JobID,
		},
		SDIDClient: {
			"ip": e.ClientIP,
		},
		SDIDAction: {
			"operation": e.Operation,
			"result":    result(e.Success),
		},
	}
	if e.Backend != "" {
		sd[SDIDSubject]["backend"] = e.Backend
	}
	return sd
}

// TaskEvent records a task enqueued through the API.
type TaskEvent struct {
	UserID       string
	ClientIP     string
	Task         string
	TaskID       string
	Queue        string
	Success      bool
	ErrorMessage string
}

func (e TaskEvent) MessageID() string {
	return "task"
}

func (e TaskEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("%s enqueued task %s (%s) on queue %s", e.UserID, e.Task, e.TaskID, e.Queue)
	}
	return withError(fmt.Sprintf("%s tried to enqueue task %s", e.UserID, e.Task), e.ErrorMessage)
}

func (e TaskEvent) Severity() Severity {
	return severity(e.Success)
}

func (e TaskEvent) Facility() int {
	return FacilityUser
}

func (e TaskEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDAuth: {
			"user": e.UserID,
		},
		SDIDSubject: {
			"task":    e.Task,
			"task_id": e.TaskID,
			"queue":   e.Queue,
		},
		SDIDClient: {
			"ip": e.ClientIP,
		},
		SDIDAction: {
			"operation": "enqueue",
			"result":    result(e.Success),
		},
	}
}

// ProjectEvent records a project created or deleted through the API.
type ProjectEvent struct {
	UserID       string
	ClientIP     string
	ProjectID    string
	Slug         string
	Operation    string // "create" or "delete"
	Success      bool
	ErrorMessage string
}

func (e ProjectEvent) MessageID() string {
	return "project"
}

func (e ProjectEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("%s %s project %s", e.UserID, pastTense(e.Operation), e.Slug)
	}
	return withError(fmt.Sprintf("%s tried to %s project %s", e.UserID, e.Operation, e.Slug), e.ErrorMessage)
}

func (e ProjectEvent) Severity() Severity {
	return severity(e.Success)
}

func (e ProjectEvent) Facility() int {
	return FacilityUser
}

func (e ProjectEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDAuth: {
			"user": e.UserID,
		},
		SDIDSubject: {
			"project": e.ProjectID,
			"slug":    e.Slug,
		},
		SDIDClient: {
			"ip": e.ClientIP,
		},
		SDIDAction: {
			"operation": e.Operation,
			"result":    result(e.Success),
		},
	}
}

// APIKeyEvent records the creation of an API key.
type APIKeyEvent struct {
	UserID    string
	KeyPrefix string
	KeyName   string
	ClientIP  string
}

func (e APIKeyEvent) MessageID() string {
	return "api-key"
}

func (e APIKeyEvent) Message() string {
	return fmt.Sprintf("%s created API key %s (%s)", e.UserID, e.KeyName, e.KeyPrefix)
}

func (e APIKeyEvent) Severity() Severity {
	return SeverityNotice
}

func (e APIKeyEvent) Facility() int {
	return FacilityAuthPriv
}

func (e APIKeyEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDAuth: {
			"user": e.UserID,
		},
		SDIDSubject: {
			"key": e.KeyPrefix,
		},
		SDIDClient: {
			"ip": e.ClientIP,
		},
		SDIDAction: {
			"operation": "create-api-key",
			"result":    "success",
		},
	}
}

func pastTense(op string) string {
	switch op {
	case "submit":
		return "submitted"
	case "cancel":
		return "cancelled"
	case "create":
		return "created"
	case "delete":
		return "deleted"
	}
	return op
}
