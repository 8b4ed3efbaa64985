package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setClientConfig(t *testing.T, server, apiKey, token string) {
	t.Helper()
	viper.Set("server", server)
	viper.Set("api_key", apiKey)
	viper.Set("token", token)
	t.Cleanup(viper.Reset)
}

func TestNewAPIClientCredentials(t *testing.T) {
	setClientConfig(t, "http://gw/", "", "")
	_, err := newAPIClient()
	assert.ErrorIs(t, err, errNoCredentials)

	setClientConfig(t, "http://gw/", "stx_key", "")
	c, err := newAPIClient()
	require.NoError(t, err)
	assert.Equal(t, "Api-Key stx_key", c.auth)
	assert.Equal(t, "http://gw", c.baseURL)

	setClientConfig(t, "http://gw", "stx_key", "jwt")
	c, err = newAPIClient()
	require.NoError(t, err)
	assert.Equal(t, "Bearer jwt", c.auth)
}

func TestAPIClientDo(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/code/api/jobs/submit/":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotBody, _ = body["script_path"].(string)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"job_id":"j1","backend":"slurm","slurm_job_id":"99"}`))
		case "/code/api/jobs/j2/status/":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"job j2 belongs to another user"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	}))
	defer srv.Close()
	setClientConfig(t, srv.URL, "stx_key", "")

	c, err := newAPIClient()
	require.NoError(t, err)
	ctx := context.Background()

	var sub submitResponse
	require.NoError(t, c.do(ctx, http.MethodPost, "/code/api/jobs/submit/", map[string]string{"script_path": "run.sh"}, &sub))
	assert.Equal(t, "Api-Key stx_key", gotAuth)
	assert.Equal(t, "run.sh", gotBody)
	assert.Equal(t, "j1", sub.JobID)
	assert.Equal(t, "slurm job 99", backendID(sub))

	err = c.do(ctx, http.MethodGet, "/code/api/jobs/j2/status/", nil, nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "job j2 belongs to another user", apiErr.Message)

	err = c.do(ctx, http.MethodGet, "/elsewhere", nil, nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestWaitForJob(t *testing.T) {
	states := []string{"PENDING", "RUNNING", "COMPLETED"}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := states[calls]
		if calls < len(states)-1 {
			calls++
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "job_id": "j1", "state": state})
	}))
	defer srv.Close()
	setClientConfig(t, srv.URL, "stx_key", "")
	c, err := newAPIClient()
	require.NoError(t, err)

	job, err := waitForJob(context.Background(), c, "j1", time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", job.State)
	assert.True(t, job.terminal())
}

func TestIssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/code/api/auth/token", r.URL.Path)
		assert.Equal(t, "Api-Key stx_key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"token":"jwt","token_type":"Bearer","username":"alice"}`))
	}))
	defer srv.Close()

	// an existing token does not replace the key in the exchange
	setClientConfig(t, srv.URL, "stx_key", "old-jwt")

	tok, err := issueToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt", tok.Token)
	assert.Equal(t, "alice", tok.Username)
}
