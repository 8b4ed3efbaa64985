package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/authenticator/authn"
	"github.com/scitex/scitex-cloud/pkg/authenticator/token"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/logging"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// memStore is an in-memory implementation of the server stores.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	keys     map[string]model.APIKey
	projects map[uuid.UUID]model.Project
	jobs     map[uuid.UUID]model.Job
	healthy  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]model.User{},
		keys:     map[string]model.APIKey{},
		projects: map[uuid.UUID]model.Project{},
		jobs:     map[uuid.UUID]model.Job{},
	}
}

func (s *memStore) CheckConnectivity(context.Context) error { return s.healthy }

func (s *memStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return store.ErrConflict
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *memStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) DeleteUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, u.ID)
	return nil
}

func (s *memStore) MarkGiteaSynced(context.Context, uuid.UUID, time.Time) error { return nil }

func (s *memStore) CreateAPIKey(_ context.Context, k *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	s.keys[k.KeyHash] = *k
	return nil
}

func (s *memStore) FindAPIKey(_ context.Context, hash string) (*model.APIKey, *model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	u, ok := s.users[k.UserID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	return &k, &u, nil
}

func (s *memStore) TouchAPIKey(context.Context, uuid.UUID, time.Time) error { return nil }

func (s *memStore) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, existing := range s.projects {
		if existing.OwnerID == p.OwnerID && existing.Slug == p.Slug {
			return store.ErrConflict
		}
	}
	s.projects[p.ID] = *p
	return nil
}

func (s *memStore) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) DeleteProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return store.ErrNotFound
	}
	delete(s.projects, p.ID)
	return nil
}

func (s *memStore) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	s.jobs[j.ID] = *j
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (s *memStore) GetJobByTaskID(_ context.Context, taskID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.TaskID == taskID {
			return &j, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) UpdateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = *j
	return nil
}

func (s *memStore) CountActiveJobs(_ context.Context, userID uuid.UUID) (int64, error) {
	active, _ := s.ListActiveJobs(context.Background(), store.JobFilter{UserID: userID})
	return int64(len(active)), nil
}

func (s *memStore) ListActiveJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		if j.IsTerminal() || (filter.UserID != uuid.Nil && j.UserID != filter.UserID) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// mockSlurm implements jobs.Slurm with testify/mock
type mockSlurm struct {
	mock.Mock
}

func (m *mockSlurm) Prepare(req slurm.SubmitRequest) (*slurm.Prepared, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slurm.Prepared), args.Error(1)
}

func (m *mockSlurm) Submit(ctx context.Context, p *slurm.Prepared) (*slurm.Submission, error) {
	args := m.Called(p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slurm.Submission), args.Error(1)
}

func (m *mockSlurm) GetJobStatus(ctx context.Context, jobID string) (*slurm.JobStatus, error) {
	args := m.Called(jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slurm.JobStatus), args.Error(1)
}

func (m *mockSlurm) CancelJob(ctx context.Context, jobID string) error {
	return m.Called(jobID).Error(0)
}

func (m *mockSlurm) GetJobOutput(ctx context.Context, jobID, workspace string) (*slurm.Output, error) {
	args := m.Called(jobID, workspace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slurm.Output), args.Error(1)
}

type testEnv struct {
	srv    *server.Server
	store  *memStore
	slurm  *mockSlurm
	broker *tasks.MemoryBroker
	tokens *token.Authenticator
	root   string
	alice  *model.User
	bob    *model.User
}

const testSecret = "test-secret-with-enough-entropy!!"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.Discard()
	st := newMemStore()
	sl := &mockSlurm{}
	root := t.TempDir()

	router, err := tasks.NewRouter([]tasks.Route{
		{Pattern: "code.run_script", Queue: "compute_light"},
		{Pattern: "writer.*", Queue: "latex"},
	}, "default")
	require.NoError(t, err)
	broker := tasks.NewMemoryBroker(time.Hour)
	dispatcher := tasks.NewDispatcher(broker, router, log)

	tokens, err := token.New(testSecret, time.Hour)
	require.NoError(t, err)
	apiKeys := authn.New(st, log)
	registry := authenticator.NewRegistry()
	registry.Register(apiKeys)
	registry.Register(tokens)
	auditor := audit.Discard()

	srv := server.NewServer(log, "127.0.0.1", "0")
	srv.Version = "1.2.3"
	srv.UsersStore = st
	srv.ProjectsStore = st
	srv.JobsStore = st
	srv.HealthStore = st
	srv.Tasks = dispatcher
	srv.Broker = broker
	srv.Jobs = jobs.NewService(st, st, sl, dispatcher, jobs.Limits{
		AsyncMaxCPUs:     2,
		AsyncMaxMemoryGB: 4,
		AsyncMaxTime:     10 * time.Minute,
		MaxSubmitPerUser: 5,
		WorkspaceRoot:    root,
		MaxOutputBytes:   4096,
	}, log)
	srv.Authenticators = registry
	srv.APIKeys = apiKeys
	srv.Tokens = tokens
	srv.Audit = auditor
	srv.Auth = middleware.NewAuth(registry, auditor, log)
	RegisterAll(srv)

	env := &testEnv{srv: srv, store: st, slurm: sl, broker: broker, tokens: tokens, root: root}
	env.alice = env.user(t, "alice")
	env.bob = env.user(t, "bob")
	return env
}

func (e *testEnv) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{ID: uuid.New(), Username: name, Email: name + "@example.org"}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) bearer(t *testing.T, u *model.User) string {
	t.Helper()
	signed, _, err := e.tokens.Issue(identity.New(u.ID.String(), u.Username, identity.MethodToken))
	require.NoError(t, err)
	return "Bearer " + signed
}

// do sends a request through the full handler chain.
func (e *testEnv) do(t *testing.T, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		payload = &buf
	}
	req := httptest.NewRequest(method, path, payload)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func (e *testEnv) workspace(u *model.User, slug string) string {
	return jobs.ProjectWorkspace(e.root, u.Username, slug)
}

var errBoom = errors.New("boom")
