package endpoints

import (
	"github.com/gorilla/mux"

	"github.com/scitex/scitex-cloud/pkg/server"
)

// RegisterAll registers all API endpoints on the server
func RegisterAll(srv *server.Server) {
	RegisterStatusEndpoints(srv)
	RegisterAuthEndpoints(srv)
	RegisterJobsEndpoints(srv)
	RegisterTasksEndpoints(srv)
	RegisterProjectsEndpoints(srv)
}

// apiPrefix is where the code app of the web frontend mounts its API.
const apiPrefix = "/code/api"

// protectedRouter returns a subrouter for prefix whose routes require an
// authenticated identity.
func protectedRouter(s *server.Server, prefix string) *mux.Router {
	r := s.Router.PathPrefix(apiPrefix + prefix).Subrouter()
	r.Use(s.Auth.Middleware)
	return r
}
