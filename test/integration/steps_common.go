package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

// testUser is a user created by a scenario. Scenarios refer to users by
// alias; the stored username carries a random suffix so scenarios do not
// collide in the shared database.
type testUser struct {
	user   *model.User
	apiKey string
	bearer string
}

// StepsContext holds state shared between step definitions
type StepsContext struct {
	tc           *TestContext
	ctx          context.Context
	response     *http.Response
	responseBody []byte
	users        map[string]*testUser
	actor        string

	projectID  string
	workspace  string
	jobID      string
	slurmJobID string

	sbatchCalls int
	sacctCalls  int
}

// NewStepsContext creates a new steps context
func NewStepsContext(tc *TestContext) *StepsContext {
	return &StepsContext{
		tc:    tc,
		ctx:   context.Background(),
		users: make(map[string]*testUser),
	}
}

// RegisterSteps registers all step definitions
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.tc.Gitea.ResetResponses()
		s.tc.Cluster.Reset()
		s.sbatchCalls = s.tc.Cluster.Calls("sbatch")
		return ctx, nil
	})

	// User and authentication steps
	sc.Step(`^a user "([^"]*)" with an API key$`, s.aUserWithAnAPIKey)
	sc.Step(`^"([^"]*)" exchanges the API key for a token$`, s.exchangesTheAPIKeyForAToken)
	sc.Step(`^I exchange the API key "([^"]*)" for a token$`, s.iExchangeTheAPIKeyForAToken)
	sc.Step(`^"([^"]*)" is authenticated$`, s.isAuthenticated)
	sc.Step(`^registering another user named "([^"]*)" should conflict$`, s.registeringAnotherUserShouldConflict)
	sc.Step(`^I send (GET|POST|DELETE) "([^"]*)" without credentials$`, s.iSendWithoutCredentials)
	sc.Step(`^"([^"]*)" sends (GET|POST|DELETE) "([^"]*)"$`, s.sends)

	// Response steps
	sc.Step(`^the response status should be (\d+)$`, s.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, s.theResponseFieldShouldBe)

	// Project and Gitea steps
	sc.Step(`^"([^"]*)" creates the project "([^"]*)"$`, s.createsTheProject)
	sc.Step(`^"([^"]*)" has the project "([^"]*)"$`, s.hasTheProject)
	sc.Step(`^"([^"]*)" has the project "([^"]*)" with the script "([^"]*)"$`, s.hasTheProjectWithTheScript)
	sc.Step(`^"([^"]*)" deletes the project$`, s.deletesTheProject)
	sc.Step(`^the project workspace should (?:still )?exist$`, s.theProjectWorkspaceShouldExist)
	sc.Step(`^the project workspace should be "([^"]*)" under the workspace root$`, s.theProjectWorkspaceShouldBe)
	sc.Step(`^gitea answers (GET|POST|PATCH|DELETE) requests with (\d+)$`, s.giteaAnswersRequestsWith)
	sc.Step(`^gitea should receive "([^"]*)"$`, s.giteaShouldReceive)
	sc.Step(`^"([^"]*)" should be marked as synced to gitea$`, s.shouldBeMarkedAsSyncedToGitea)
	sc.Step(`^the gitea log should report "([^"]*)" for "([^"]*)"$`, s.theGiteaLogShouldReport)

	// Job steps
	sc.Step(`^"([^"]*)" submits the job:$`, s.submitsTheJob)
	sc.Step(`^"([^"]*)" cancels the job$`, s.cancelsTheJob)
	sc.Step(`^the job status should be "([^"]*)"$`, s.theJobStatusShouldBe)
	sc.Step(`^the job should eventually be "([^"]*)"$`, s.theJobShouldEventuallyBe)
	sc.Step(`^the job reason should be "([^"]*)"$`, s.theJobReasonShouldBe)
	sc.Step(`^the job exit code should be (\d+)$`, s.theJobExitCodeShouldBe)
	sc.Step(`^the job output should contain "([^"]*)"$`, s.theJobOutputShouldContain)
	sc.Step(`^"([^"]*)" should have (\d+) jobs? in the queue$`, s.shouldHaveJobsInTheQueue)
	sc.Step(`^the stored job should be "([^"]*)" with a finish time$`, s.theStoredJobShouldBeWithAFinishTime)

	// Cluster steps
	sc.Step(`^the cluster rejects submissions with "([^"]*)"$`, s.theClusterRejectsSubmissionsWith)
	sc.Step(`^the cluster finishes the job as "([^"]*)" with exit code "([^"]*)"$`, s.theClusterFinishesTheJobAs)
	sc.Step(`^the cluster should hold the job as "([^"]*)"$`, s.theClusterShouldHoldTheJobAs)
	sc.Step(`^sbatch should not have been run$`, s.sbatchShouldNotHaveBeenRun)
	sc.Step(`^the job status should have been read from accounting$`, s.theJobStatusShouldHaveBeenReadFromAccounting)
}

// User and authentication steps

func (s *StepsContext) aUserWithAnAPIKey(alias string) error {
	u := &model.User{
		ID:       uuid.New(),
		Username: alias + "-" + uuid.NewString()[:8],
	}
	u.Email = u.Username + "@example.org"
	if err := s.tc.Users.CreateUser(s.ctx, u); err != nil {
		return fmt.Errorf("create user %s: %w", alias, err)
	}
	key, plain, err := model.NewAPIKey(u.ID, "it", nil)
	if err != nil {
		return err
	}
	if err := s.tc.Users.CreateAPIKey(s.ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	s.users[alias] = &testUser{user: u, apiKey: plain}
	return nil
}

func (s *StepsContext) exchangesTheAPIKeyForAToken(alias string) error {
	u, err := s.user(alias)
	if err != nil {
		return err
	}
	if err := s.request(http.MethodPost, "/code/api/auth/token", "Api-Key "+u.apiKey, nil); err != nil {
		return err
	}
	if s.response.StatusCode != http.StatusOK {
		return nil
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(s.responseBody, &body); err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("missing token in %s", s.responseBody)
	}
	u.bearer = "Bearer " + body.Token
	return nil
}

func (s *StepsContext) iExchangeTheAPIKeyForAToken(key string) error {
	return s.request(http.MethodPost, "/code/api/auth/token", "Api-Key "+key, nil)
}

func (s *StepsContext) isAuthenticated(alias string) error {
	if err := s.exchangesTheAPIKeyForAToken(alias); err != nil {
		return err
	}
	return s.theResponseStatusShouldBe(http.StatusOK)
}

func (s *StepsContext) registeringAnotherUserShouldConflict(alias string) error {
	u, err := s.user(alias)
	if err != nil {
		return err
	}
	err = s.tc.Users.CreateUser(s.ctx, &model.User{ID: uuid.New(), Username: u.user.Username, Email: "other-" + u.user.Email})
	if !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("expected a conflict, got %v", err)
	}
	return nil
}

func (s *StepsContext) iSendWithoutCredentials(method, path string) error {
	return s.request(method, path, "", nil)
}

func (s *StepsContext) sends(alias, method, path string) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	return s.request(method, s.expand(path), auth, nil)
}

// Response steps

func (s *StepsContext) theResponseStatusShouldBe(expectedStatus int) error {
	if s.response == nil {
		return fmt.Errorf("no request has been sent")
	}
	if s.response.StatusCode != expectedStatus {
		return fmt.Errorf("expected status %d, got %d: %s", expectedStatus, s.response.StatusCode, string(s.responseBody))
	}
	return nil
}

func (s *StepsContext) theResponseFieldShouldBe(name, expected string) error {
	var body map[string]any
	if err := json.Unmarshal(s.responseBody, &body); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	v, ok := body[name]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", name, s.responseBody)
	}
	if got, want := fmt.Sprint(v), s.expand(expected); got != want {
		return fmt.Errorf("expected %s %q, got %q", name, want, got)
	}
	return nil
}

// helpers

func (s *StepsContext) user(alias string) (*testUser, error) {
	u, ok := s.users[alias]
	if !ok {
		return nil, fmt.Errorf("no user %q in this scenario", alias)
	}
	s.actor = alias
	return u, nil
}

func (s *StepsContext) bearer(alias string) (string, error) {
	u, err := s.user(alias)
	if err != nil {
		return "", err
	}
	if u.bearer == "" {
		return "", fmt.Errorf("%s is not authenticated", alias)
	}
	return u.bearer, nil
}

// expand replaces {alias} with the username behind alias.
func (s *StepsContext) expand(text string) string {
	for alias, u := range s.users {
		text = strings.ReplaceAll(text, "{"+alias+"}", u.user.Username)
	}
	return text
}

func (s *StepsContext) request(method, path, auth string, body any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(s.ctx, method, s.tc.ServerURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := s.tc.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	s.response = resp
	s.responseBody, err = io.ReadAll(resp.Body)
	return err
}

// eventually polls cond until it returns nil or ten seconds pass, and
// returns the last error.
func eventually(cond func() error) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		err := cond()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}
