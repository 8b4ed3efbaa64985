package endpoints

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/model"
)

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := model.NewAPIKey(env.alice.ID, "laptop", nil)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateAPIKey(context.Background(), key))

	t.Run("api key header", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/auth/token", "Api-Key "+plain, nil)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, "alice", body["username"])

		// the token is accepted by the protected routes
		w = env.do(t, "GET", "/code/api/jobs/queue/", "Bearer "+body["token"].(string), nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("json body", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/auth/token", "", TokenRequest{APIKey: plain})

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("unknown key", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/auth/token", "Api-Key stx_not-a-real-key", nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, false, decodeBody(t, w)["success"])
	})

	t.Run("bearer is not exchanged", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/auth/token", env.bearer(t, env.alice), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/auth/token", "", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestIssueTokenExpiredKey(t *testing.T) {
	env := newTestEnv(t)
	expired := time.Now().Add(-time.Minute)
	key, plain, err := model.NewAPIKey(env.alice.ID, "old", &expired)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateAPIKey(context.Background(), key))

	w := env.do(t, "POST", "/code/api/auth/token", "Api-Key "+plain, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/code/api/jobs/submit/"},
		{"GET", "/code/api/jobs/queue/"},
		{"GET", "/code/api/jobs/0d4b3c4e-7a55-4d8c-9df8-2a8d1b4c5e6f/status/"},
		{"POST", "/code/api/tasks/writer.compile/"},
		{"POST", "/code/api/projects/"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := env.do(t, route.method, route.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

			w = env.do(t, route.method, route.path, "Bearer garbage", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
