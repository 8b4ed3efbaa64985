package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/authenticator/authn"
	"github.com/scitex/scitex-cloud/pkg/authenticator/token"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// TaskQueue is the part of *tasks.Dispatcher the endpoints use.
type TaskQueue interface {
	ApplyAsync(ctx context.Context, task string, args any, opts tasks.Options) (*tasks.Message, error)
	Result(ctx context.Context, id string) (*tasks.Result, error)
}

type Server struct {
	Router  *mux.Router
	Log     *logrus.Logger
	Version string

	UsersStore    store.UsersStore
	ProjectsStore store.ProjectsStore
	JobsStore     store.JobsStore
	HealthStore   store.HealthStore

	Jobs   *jobs.Service
	Tasks  TaskQueue
	Broker tasks.Broker

	Authenticators *authenticator.Registry
	APIKeys        *authn.Authenticator
	Tokens         *token.Authenticator
	Auth           *middleware.Auth
	Audit          *audit.Logger

	srv       *http.Server
	accessLog io.WriteCloser
}

func NewServer(log *logrus.Logger, host string, port string) *Server {
	router := mux.NewRouter()
	s := &Server{
		Router:    router,
		Log:       log,
		Version:   "dev",
		accessLog: log.WriterLevel(logrus.InfoLevel),
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		Addr:              host + ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler is the router wrapped with proxy header, recovery and access log
// handling, outermost first.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.Log),
		handlers.PrintRecoveryStack(s.Log.IsLevelEnabled(logrus.DebugLevel)),
	)(h)
	h = handlers.ProxyHeaders(h)
	return handlers.LoggingHandler(s.accessLog, h)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	_ = s.accessLog.Close()
	return err
}
