package middleware

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/identity"
)

// Auth is middleware that authenticates the Authorization header against
// the registered authenticators and stores the identity on the context.
type Auth struct {
	Registry *authenticator.Registry
	Audit    *audit.Logger
	Log      logrus.FieldLogger
}

// NewAuth creates a new auth middleware
func NewAuth(registry *authenticator.Registry, auditor *audit.Logger, log logrus.FieldLogger) *Auth {
	return &Auth{Registry: registry, Audit: auditor, Log: log}
}

// Middleware returns an HTTP middleware that rejects unauthenticated requests
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIP(r)

		id, err := a.Registry.Authenticate(r.Context(), r.Header.Get("Authorization"), clientIP)
		if err != nil {
			if !errors.Is(err, authenticator.ErrUnauthorized) {
				a.Log.WithError(err).Error("authentication backend failed")
				writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				return
			}
			scheme, _, _ := authenticator.ParseAuthorization(r.Header.Get("Authorization"))
			a.Audit.Log(audit.AuthenticateEvent{
				ClientIP:     clientIP,
				Method:       methodFor(a.Registry, scheme),
				ErrorMessage: err.Error(),
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="scitex", Api-Key realm="scitex"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		id.WithRemoteIP(net.ParseIP(clientIP))
		next.ServeHTTP(w, r.WithContext(identity.Set(r.Context(), id)))
	})
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func methodFor(registry *authenticator.Registry, scheme string) string {
	if auth, ok := registry.ForScheme(scheme); ok {
		return auth.Name()
	}
	return "unknown"
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
