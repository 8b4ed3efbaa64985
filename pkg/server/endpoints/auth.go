package endpoints

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/authenticator/authn"
	"github.com/scitex/scitex-cloud/pkg/authenticator/token"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
)

// TokenRequest is the optional body of POST /code/api/auth/token
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse carries a freshly issued access token
type TokenResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// RegisterAuthEndpoints registers the token exchange endpoint. It
// authenticates the API key itself, so it sits outside the auth middleware.
func RegisterAuthEndpoints(s *server.Server) {
	s.Router.HandleFunc(apiPrefix+"/auth/token", handleIssueToken(s)).Methods("POST")
}

func handleIssueToken(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.APIKeys == nil || s.Tokens == nil {
			respondWithError(w, http.StatusNotImplemented, "token exchange is not enabled")
			return
		}

		plain, err := apiKeyFromRequest(r)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		clientIP := middleware.ClientIP(r)
		key, user, err := s.APIKeys.Lookup(r.Context(), plain)
		if err != nil {
			if errors.Is(err, authenticator.ErrUnauthorized) {
				s.Audit.Log(audit.AuthenticateEvent{ClientIP: clientIP, Method: s.APIKeys.Name(), ErrorMessage: err.Error()})
			}
			respondWithFailure(w, s.Log, err)
			return
		}

		id := identity.New(user.ID.String(), user.Username, identity.MethodAPIKey).WithKey(key.ID.String())
		signed, expiresAt, err := s.Tokens.Issue(id)
		if err != nil {
			respondWithFailure(w, s.Log, err)
			return
		}

		s.Audit.Log(audit.AuthenticateEvent{UserID: user.ID.String(), ClientIP: clientIP, Method: s.APIKeys.Name(), Success: true})
		respondWithJSON(w, http.StatusOK, TokenResponse{
			Success:   true,
			Token:     signed,
			TokenType: token.Scheme,
			ExpiresAt: expiresAt,
			Username:  user.Username,
		})
	}
}

// apiKeyFromRequest takes the key from an "Api-Key" Authorization header,
// or from the JSON body.
func apiKeyFromRequest(r *http.Request) (string, error) {
	if scheme, credential, ok := authenticator.ParseAuthorization(r.Header.Get("Authorization")); ok {
		if !strings.EqualFold(scheme, authn.Scheme) {
			return "", errors.New("an API key is required to obtain a token")
		}
		return credential, nil
	}
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", errors.New("api_key is required")
	}
	if req.APIKey == "" {
		return "", errors.New("api_key is required")
	}
	return req.APIKey, nil
}
