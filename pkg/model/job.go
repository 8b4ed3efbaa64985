package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/slurm"
)

// Job backends
const (
	BackendSlurm = "slurm"
	BackendTask  = "task"
)

// Job is a script run submitted through the gateway, either as a SLURM
// batch job or as a task on the light compute queue.
type Job struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"job_id"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	ProjectID     *uuid.UUID `gorm:"column:project_id;type:uuid" json:"project_id,omitempty"`
	Name          string     `gorm:"column:name" json:"name"`
	Backend       string     `gorm:"column:backend;not null" json:"backend"`
	SlurmJobID    string     `gorm:"column:slurm_job_id" json:"slurm_job_id,omitempty"`
	TaskID        string     `gorm:"column:task_id" json:"task_id,omitempty"`
	TaskName      string     `gorm:"column:task_name" json:"task_name,omitempty"`
	Queue         string     `gorm:"column:queue" json:"queue,omitempty"`
	Partition     string     `gorm:"column:partition" json:"partition,omitempty"`
	CPUs          int        `gorm:"column:cpus" json:"cpus"`
	MemoryGB      int        `gorm:"column:memory_gb" json:"memory_gb"`
	TimeLimit     int        `gorm:"column:time_limit" json:"time_limit"`
	ScriptPath    string     `gorm:"column:script_path" json:"script_path"`
	ContainerPath string     `gorm:"column:container_path" json:"container_path"`
	Workspace     string     `gorm:"column:workspace" json:"workspace"`
	State         string     `gorm:"column:state;not null" json:"state"`
	Reason        string     `gorm:"column:reason" json:"reason,omitempty"`
	ExitCode      *int       `gorm:"column:exit_code" json:"exit_code,omitempty"`
	SubmittedAt   time.Time  `gorm:"column:submitted_at" json:"submitted_at"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// TimeLimitDuration returns TimeLimit as a duration.
func (j *Job) TimeLimitDuration() time.Duration {
	return time.Duration(j.TimeLimit) * time.Second
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return slurm.IsTerminal(j.State)
}
