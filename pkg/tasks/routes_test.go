package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/scitex/scitex-cloud/pkg/config"
)

func TestRouterResolve(t *testing.T) {
	router, err := NewRouter([]Route{
		{Pattern: "writer.ai_suggest", Queue: "ai", RateLimit: "10/m"},
		{Pattern: "writer.*", Queue: "writer"},
		{Pattern: "gitea.*", Queue: "sync"},
	}, "default")
	require.NoError(t, err)

	tests := []struct {
		task      string
		wantQueue string
		wantRate  string
	}{
		{"writer.ai_suggest", "ai", "10/m"},
		{"writer.compile_latex", "writer", ""},
		{"gitea.create_repo", "sync", ""},
		{"scholar.search_papers", "default", ""},
		{"gitea", "default", ""},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			route := router.Resolve(tt.task)
			assert.Equal(t, tt.wantQueue, route.Queue)
			assert.Equal(t, tt.wantRate, route.RateLimit)
		})
	}

	assert.Equal(t, []string{"default", "ai", "writer", "sync"}, router.Queues())
}

func TestRouterFromDefaultConfig(t *testing.T) {
	router, err := RouterFromConfig(config.Default())
	require.NoError(t, err)

	assert.Equal(t, "ai", router.Resolve("writer.ai_suggest").Queue)
	assert.Equal(t, "search", router.Resolve("scholar.search_papers").Queue)
	assert.Equal(t, "latex", router.Resolve("writer.compile_latex").Queue)
	assert.Equal(t, "compute_light", router.Resolve("code.run_script").Queue)
	assert.Equal(t, "sync", router.Resolve("gitea.delete_user").Queue)
	assert.Equal(t, "default", router.Resolve("unknown.task").Queue)
}

func TestRouterUpdateKeepsOldTableOnError(t *testing.T) {
	router, err := NewRouter([]Route{{Pattern: "a.*", Queue: "a"}}, "default")
	require.NoError(t, err)

	err = router.Update([]Route{{Pattern: "b.*", Queue: "b", RateLimit: "fast"}}, "default")
	assert.ErrorIs(t, err, ErrInvalidRateLimit)
	assert.Equal(t, "a", router.Resolve("a.x").Queue)

	assert.Error(t, router.Update([]Route{{Pattern: "[", Queue: "b"}}, "default"))
	assert.Error(t, router.Update(nil, ""))

	require.NoError(t, router.Update([]Route{{Pattern: "b.*", Queue: "b"}}, "other"))
	assert.Equal(t, "other", router.Resolve("a.x").Queue)
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		in   string
		want rate.Limit
	}{
		{"", rate.Inf},
		{"0", rate.Inf},
		{"5", 5},
		{"5/s", 5},
		{"30/m", 0.5},
		{"3600/h", 1},
	}
	for _, tt := range tests {
		got, err := ParseRateLimit(tt.in)
		require.NoError(t, err, tt.in)
		if tt.want == rate.Inf {
			assert.Equal(t, rate.Inf, got, tt.in)
			continue
		}
		assert.InDelta(t, float64(tt.want), float64(got), 1e-9, tt.in)
	}

	for _, in := range []string{"ten/m", "10/d", "-1/s", "10/"} {
		_, err := ParseRateLimit(in)
		assert.ErrorIs(t, err, ErrInvalidRateLimit, in)
	}
}
