package gitea

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/signals"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// Task names, routed to the sync queue by the default gitea.* route.
const (
	TaskCreateUser = "gitea.create_user"
	TaskDeleteUser = "gitea.delete_user"
	TaskCreateRepo = "gitea.create_repo"
	TaskDeleteRepo = "gitea.delete_repo"
)

// UserArgs are the arguments of the user tasks.
type UserArgs struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// RepoArgs are the arguments of the repository tasks.
type RepoArgs struct {
	ProjectID   string `json:"project_id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
}

// Enqueuer is the part of *tasks.Dispatcher the receivers use.
type Enqueuer interface {
	Delay(ctx context.Context, task string, args any) (*tasks.Message, error)
}

// Connect wires the user and project signals of d to gitea tasks. An
// enqueue failure is logged and does not fail the database operation.
func Connect(d *signals.Dispatcher, q Enqueuer, log logrus.FieldLogger) {
	enqueue := func(ctx context.Context, task string, args any, fields logrus.Fields) {
		msg, err := q.Delay(ctx, task, args)
		if err != nil {
			log.WithError(err).WithFields(fields).WithField("task", task).Error("could not enqueue gitea sync")
			return
		}
		log.WithFields(fields).WithFields(logrus.Fields{"task": task, "task_id": msg.ID}).Debug("gitea sync enqueued")
	}

	d.Connect(signals.UserCreated, func(ctx context.Context, payload any) error {
		u, ok := payload.(*model.User)
		if !ok {
			return fmt.Errorf("user_created: unexpected payload %T", payload)
		}
		enqueue(ctx, TaskCreateUser, UserArgs{UserID: u.ID.String(), Username: u.Username, Email: u.Email},
			logrus.Fields{"username": u.Username})
		return nil
	})
	d.Connect(signals.UserDeleted, func(ctx context.Context, payload any) error {
		u, ok := payload.(*model.User)
		if !ok {
			return fmt.Errorf("user_deleted: unexpected payload %T", payload)
		}
		enqueue(ctx, TaskDeleteUser, UserArgs{UserID: u.ID.String(), Username: u.Username},
			logrus.Fields{"username": u.Username})
		return nil
	})
	d.Connect(signals.ProjectCreated, func(ctx context.Context, payload any) error {
		args, err := repoArgs(payload)
		if err != nil {
			return err
		}
		enqueue(ctx, TaskCreateRepo, args, logrus.Fields{"repo": args.Owner + "/" + args.Name})
		return nil
	})
	d.Connect(signals.ProjectDeleted, func(ctx context.Context, payload any) error {
		args, err := repoArgs(payload)
		if err != nil {
			return err
		}
		enqueue(ctx, TaskDeleteRepo, args, logrus.Fields{"repo": args.Owner + "/" + args.Name})
		return nil
	})
}

func repoArgs(payload any) (RepoArgs, error) {
	p, ok := payload.(*model.Project)
	if !ok {
		return RepoArgs{}, fmt.Errorf("project signal: unexpected payload %T", payload)
	}
	if p.Owner == nil {
		return RepoArgs{}, fmt.Errorf("project %s: owner not loaded", p.ID)
	}
	return RepoArgs{
		ProjectID:   p.ID.String(),
		Owner:       p.Owner.Username,
		Name:        p.Slug,
		Description: p.Description,
		Private:     p.Private,
	}, nil
}

// API is the part of *Client the handlers use.
type API interface {
	CreateUser(ctx context.Context, opt CreateUserOption) error
	DeleteUser(ctx context.Context, username string) error
	CreateRepo(ctx context.Context, owner string, opt CreateRepoOption) error
	DeleteRepo(ctx context.Context, owner, name string) error
}

// SyncRecorder stores when a user was mirrored.
type SyncRecorder interface {
	MarkGiteaSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Handlers run the gitea tasks on a worker.
type Handlers struct {
	API   API
	Users SyncRecorder
	Log   logrus.FieldLogger
}

// Register adds the handlers to w. Gitea outages are retried.
func (h *Handlers) Register(w *tasks.Worker) {
	retry := tasks.MaxRetries(5, 30*time.Second)
	w.Register(TaskCreateUser, h.CreateUser, retry)
	w.Register(TaskDeleteUser, h.DeleteUser, retry)
	w.Register(TaskCreateRepo, h.CreateRepo, retry)
	w.Register(TaskDeleteRepo, h.DeleteRepo, retry)
}

func (h *Handlers) CreateUser(ctx context.Context, msg *tasks.Message) (any, error) {
	var args UserArgs
	if err := decodeUser(msg, &args); err != nil {
		return nil, err
	}
	password, err := randomPassword()
	if err != nil {
		return nil, err
	}
	// Users reach Gitea through SciTeX, never with this password.
	if err := h.API.CreateUser(ctx, CreateUserOption{
		Username: args.Username,
		Email:    args.Email,
		Password: password,
	}); err != nil {
		return nil, err
	}

	if id, err := uuid.Parse(args.UserID); err == nil && h.Users != nil {
		if err := h.Users.MarkGiteaSynced(ctx, id, time.Now().UTC()); err != nil {
			h.Log.WithError(err).WithField("username", args.Username).Warn("could not record gitea sync")
		}
	}
	h.Log.WithField("username", args.Username).Info("gitea user created")
	return map[string]string{"username": args.Username}, nil
}

func (h *Handlers) DeleteUser(ctx context.Context, msg *tasks.Message) (any, error) {
	var args UserArgs
	if err := decodeUser(msg, &args); err != nil {
		return nil, err
	}
	if err := h.API.DeleteUser(ctx, args.Username); err != nil {
		return nil, err
	}
	h.Log.WithField("username", args.Username).Info("gitea user deleted")
	return map[string]string{"username": args.Username}, nil
}

func (h *Handlers) CreateRepo(ctx context.Context, msg *tasks.Message) (any, error) {
	var args RepoArgs
	if err := decodeRepo(msg, &args); err != nil {
		return nil, err
	}
	if err := h.API.CreateRepo(ctx, args.Owner, CreateRepoOption{
		Name:          args.Name,
		Description:   args.Description,
		Private:       args.Private,
		AutoInit:      true,
		DefaultBranch: "main",
	}); err != nil {
		return nil, err
	}
	h.Log.WithField("repo", args.Owner+"/"+args.Name).Info("gitea repository created")
	return map[string]string{"repo": args.Owner + "/" + args.Name}, nil
}

func (h *Handlers) DeleteRepo(ctx context.Context, msg *tasks.Message) (any, error) {
	var args RepoArgs
	if err := decodeRepo(msg, &args); err != nil {
		return nil, err
	}
	if err := h.API.DeleteRepo(ctx, args.Owner, args.Name); err != nil {
		return nil, err
	}
	h.Log.WithField("repo", args.Owner+"/"+args.Name).Info("gitea repository deleted")
	return map[string]string{"repo": args.Owner + "/" + args.Name}, nil
}

var errMissingArgs = errors.New("missing task arguments")

func decodeUser(msg *tasks.Message, args *UserArgs) error {
	if err := msg.Decode(args); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	if args.Username == "" {
		return fmt.Errorf("%w: username", errMissingArgs)
	}
	return nil
}

func decodeRepo(msg *tasks.Message, args *RepoArgs) error {
	if err := msg.Decode(args); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	if args.Owner == "" || args.Name == "" {
		return fmt.Errorf("%w: owner and name", errMissingArgs)
	}
	return nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
