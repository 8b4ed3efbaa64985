package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

func (e *testEnv) consume(t *testing.T, queue string) *tasks.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := e.broker.Consume(ctx, []string{queue}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func TestEnqueueTask(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/code/api/tasks/writer.compile/", env.bearer(t, env.alice), map[string]interface{}{
		"workspace": env.workspace(env.alice, "paper"),
		"main":      "main.tex",
		"user_id":   env.bob.ID.String(),
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "writer.compile", body["task"])
	assert.Equal(t, "latex", body["queue"])

	msg := env.consume(t, "latex")
	assert.Equal(t, body["task_id"], msg.ID)
	var args map[string]interface{}
	require.NoError(t, msg.Decode(&args))
	assert.Equal(t, env.alice.ID.String(), args["user_id"], "caller overrides a client supplied user_id")
	assert.Equal(t, "main.tex", args["main"])
}

func TestEnqueueTaskWithProject(t *testing.T) {
	env := newTestEnv(t)
	project := &model.Project{OwnerID: env.alice.ID, Name: "Paper", Slug: "paper"}
	require.NoError(t, env.store.CreateProject(context.Background(), project))

	t.Run("resolves the workspace", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/tasks/scholar.search/", env.bearer(t, env.alice), map[string]interface{}{
			"project_id": project.ID.String(),
		})

		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "default", decodeBody(t, w)["queue"])
		var args map[string]interface{}
		require.NoError(t, env.consume(t, "default").Decode(&args))
		assert.Equal(t, env.workspace(env.alice, "paper"), args["workspace"])
	})

	t.Run("project of another user", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/tasks/scholar.search/", env.bearer(t, env.bob), map[string]interface{}{
			"project_id": project.ID.String(),
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("invalid project id", func(t *testing.T) {
		w := env.do(t, "POST", "/code/api/tasks/scholar.search/", env.bearer(t, env.alice), map[string]interface{}{
			"project_id": 12,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEnqueueTaskRejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		task string
		args interface{}
		want int
	}{
		{"internal task", "gitea.create_repo", nil, http.StatusNotFound},
		{"script runs go through jobs", "code.run_script", nil, http.StatusNotFound},
		{"workspace of another user", "writer.compile", map[string]interface{}{"workspace": env.workspace(env.bob, "paper")}, http.StatusForbidden},
		{"workspace is not a string", "writer.compile", map[string]interface{}{"workspace": 7}, http.StatusBadRequest},
		{"args are not an object", "writer.compile", []string{"a"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/code/api/tasks/"+tt.task+"/", env.bearer(t, env.alice), tt.args)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, false, decodeBody(t, w)["success"])
		})
	}

	n, err := env.broker.QueueLength(context.Background(), "latex")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueTaskBrokerDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.broker.Close())

	w := env.do(t, "POST", "/code/api/tasks/writer.compile/", env.bearer(t, env.alice), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTaskResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	taskID := uuid.NewString()
	require.NoError(t, env.broker.SetResult(ctx, &tasks.Result{
		ID:     taskID,
		Task:   "writer.compile",
		State:  tasks.StateSuccess,
		Result: json.RawMessage(`{"pdf":"main.pdf"}`),
	}))

	t.Run("ready", func(t *testing.T) {
		w := env.do(t, "GET", "/code/api/tasks/"+taskID+"/result/", env.bearer(t, env.alice), nil)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, "SUCCESS", body["state"])
		assert.Equal(t, true, body["ready"])
		assert.Equal(t, map[string]interface{}{"pdf": "main.pdf"}, body["result"])
	})

	t.Run("unknown", func(t *testing.T) {
		w := env.do(t, "GET", "/code/api/tasks/"+uuid.NewString()+"/result/", env.bearer(t, env.alice), nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("job task of another user", func(t *testing.T) {
		job := &model.Job{ID: uuid.New(), UserID: env.alice.ID, Backend: model.BackendTask, TaskID: taskID, State: slurm.StateCompleted}
		require.NoError(t, env.store.CreateJob(ctx, job))

		w := env.do(t, "GET", "/code/api/tasks/"+taskID+"/result/", env.bearer(t, env.bob), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = env.do(t, "GET", "/code/api/tasks/"+taskID+"/result/", env.bearer(t, env.alice), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestEnqueueTaskCountdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("holds the message back", func(t *testing.T) {
		before := time.Now()
		w := env.do(t, "POST", "/code/api/tasks/writer.compile/?countdown=60", env.bearer(t, env.alice), nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		taskID := decodeBody(t, w)["task_id"].(string)

		n, err := env.broker.QueueLength(ctx, "latex")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		res, err := env.broker.GetResult(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, tasks.StatePending, res.State)
		assert.False(t, res.Ready())
		assert.WithinDuration(t, before, res.UpdatedAt, 5*time.Second)
	})

	for _, tt := range []struct {
		name  string
		query string
	}{
		{name: "not a number", query: "soon"},
		{name: "negative", query: "-5"},
		{name: "too long", query: "48h"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/code/api/tasks/writer.compile/?countdown="+tt.query, env.bearer(t, env.alice), nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}
