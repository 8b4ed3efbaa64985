package gitea

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/logging"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/signals"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CreateUser(ctx context.Context, opt CreateUserOption) error {
	return m.Called(opt.Username, opt.Email).Error(0)
}

func (m *mockAPI) DeleteUser(ctx context.Context, username string) error {
	return m.Called(username).Error(0)
}

func (m *mockAPI) CreateRepo(ctx context.Context, owner string, opt CreateRepoOption) error {
	return m.Called(owner, opt).Error(0)
}

func (m *mockAPI) DeleteRepo(ctx context.Context, owner, name string) error {
	return m.Called(owner, name).Error(0)
}

type syncRecorder struct {
	ids []uuid.UUID
}

func (s *syncRecorder) MarkGiteaSynced(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.ids = append(s.ids, id)
	return nil
}

type harness struct {
	dispatcher *tasks.Dispatcher
	broker     *tasks.MemoryBroker
	signals    *signals.Dispatcher
	worker     *tasks.Worker
	api        *mockAPI
	synced     *syncRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	router, err := tasks.NewRouter([]tasks.Route{{Pattern: "gitea.*", Queue: "sync"}}, "default")
	require.NoError(t, err)
	broker := tasks.NewMemoryBroker(time.Hour)
	h := &harness{
		dispatcher: tasks.NewDispatcher(broker, router, logging.Discard()),
		broker:     broker,
		signals:    signals.NewDispatcher(),
		worker:     tasks.NewWorker(broker, router, logging.Discard(), tasks.WorkerOptions{}),
		api:        &mockAPI{},
		synced:     &syncRecorder{},
	}
	Connect(h.signals, h.dispatcher, logging.Discard())
	(&Handlers{API: h.api, Users: h.synced, Log: logging.Discard()}).Register(h.worker)
	return h
}

// drain runs every queued sync task and returns the final task states.
func (h *harness) drain(t *testing.T) map[string]string {
	t.Helper()
	ctx := context.Background()
	states := map[string]string{}
	for {
		msg, err := h.broker.Consume(ctx, []string{"sync"}, 10*time.Millisecond)
		require.NoError(t, err)
		if msg == nil {
			return states
		}
		h.worker.Process(ctx, msg)
		res, err := h.dispatcher.Result(ctx, msg.ID)
		require.NoError(t, err)
		states[msg.Task] = res.State
	}
}

func TestUserLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := &model.User{ID: uuid.New(), Username: "alice", Email: "alice@example.org"}

	h.api.On("CreateUser", "alice", "alice@example.org").Return(nil)
	h.api.On("DeleteUser", "alice").Return(nil)

	require.NoError(t, h.signals.Send(ctx, signals.UserCreated, user))
	require.NoError(t, h.signals.Send(ctx, signals.UserDeleted, user))

	states := h.drain(t)
	assert.Equal(t, tasks.StateSuccess, states[TaskCreateUser])
	assert.Equal(t, tasks.StateSuccess, states[TaskDeleteUser])
	assert.Equal(t, []uuid.UUID{user.ID}, h.synced.ids)
	h.api.AssertExpectations(t)
}

func TestProjectLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := &model.User{ID: uuid.New(), Username: "alice"}
	project := &model.Project{ID: uuid.New(), OwnerID: owner.ID, Owner: owner, Name: "My Thesis", Slug: "my-thesis", Private: true}

	h.api.On("CreateRepo", "alice", CreateRepoOption{Name: "my-thesis", Private: true, AutoInit: true, DefaultBranch: "main"}).Return(nil)
	h.api.On("DeleteRepo", "alice", "my-thesis").Return(nil)

	require.NoError(t, h.signals.Send(ctx, signals.ProjectCreated, project))
	require.NoError(t, h.signals.Send(ctx, signals.ProjectDeleted, project))

	states := h.drain(t)
	assert.Equal(t, tasks.StateSuccess, states[TaskCreateRepo])
	assert.Equal(t, tasks.StateSuccess, states[TaskDeleteRepo])
	h.api.AssertExpectations(t)
}

func TestGiteaOutageIsRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.On("DeleteUser", "bob").Return(errors.New("connection refused"))

	require.NoError(t, h.signals.Send(ctx, signals.UserDeleted, &model.User{ID: uuid.New(), Username: "bob"}))

	msg, err := h.broker.Consume(ctx, []string{"sync"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	h.worker.Process(ctx, msg)

	res, err := h.dispatcher.Result(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateRetry, res.State)
	assert.Equal(t, "connection refused", res.Error)
}

func TestProjectWithoutOwner(t *testing.T) {
	h := newHarness(t)
	err := h.signals.Send(context.Background(), signals.ProjectCreated, &model.Project{ID: uuid.New(), Slug: "x"})
	assert.ErrorContains(t, err, "owner not loaded")
}

type failingQueue struct{}

func (failingQueue) Delay(context.Context, string, any) (*tasks.Message, error) {
	return nil, errors.New("redis down")
}

func TestEnqueueFailureDoesNotFailSignal(t *testing.T) {
	d := signals.NewDispatcher()
	Connect(d, failingQueue{}, logging.Discard())
	assert.NoError(t, d.Send(context.Background(), signals.UserCreated, &model.User{Username: "carol"}))
}

func TestHandlersRejectMissingArgs(t *testing.T) {
	h := &Handlers{API: &mockAPI{}, Log: logging.Discard()}
	_, err := h.CreateRepo(context.Background(), &tasks.Message{Args: []byte(`{"owner":"alice"}`)})
	assert.ErrorIs(t, err, errMissingArgs)
	_, err = h.DeleteUser(context.Background(), &tasks.Message{Args: []byte(`{}`)})
	assert.ErrorIs(t, err, errMissingArgs)
}
