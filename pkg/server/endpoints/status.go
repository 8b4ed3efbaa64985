package endpoints

import (
	"context"
	"net/http"
	"time"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// StatusResponse is the body of GET /
type StatusResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// AuthenticatorsResponse is the body of GET /authenticators
type AuthenticatorsResponse struct {
	Installed []string `json:"installed"`
	Enabled   []string `json:"enabled"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RegisterStatusEndpoints registers the status and health endpoints
func RegisterStatusEndpoints(s *server.Server) {
	// GET / - version (no auth required)
	s.Router.HandleFunc("/", handleStatus(s.Version)).Methods("GET")

	// GET /authenticators - installed and enabled authenticators (no auth required)
	s.Router.HandleFunc("/authenticators", handleAuthenticators(s.Authenticators)).Methods("GET")

	// GET /health - database and broker connectivity (no auth required)
	s.Router.HandleFunc("/health", handleHealth(s.HealthStore, s.Broker)).Methods("GET")
}

func handleStatus(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, StatusResponse{Service: "scitex-cloud", Version: version})
	}
}

func handleAuthenticators(registry *authenticator.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := AuthenticatorsResponse{Installed: []string{}, Enabled: []string{}}
		if registry != nil {
			response.Installed = registry.Installed()
			response.Enabled = registry.Enabled()
		}
		respondWithJSON(w, http.StatusOK, response)
	}
}

func handleHealth(healthStore store.HealthStore, broker tasks.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := HealthResponse{Status: "ok", Checks: map[string]string{}}
		check := func(name string, fn func(context.Context) error) {
			if err := fn(ctx); err != nil {
				response.Status = "error"
				response.Checks[name] = err.Error()
				return
			}
			response.Checks[name] = "ok"
		}
		if healthStore != nil {
			check("database", healthStore.CheckConnectivity)
		}
		if broker != nil {
			check("broker", broker.Ping)
		}

		code := http.StatusOK
		if response.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		respondWithJSON(w, code, response)
	}
}
