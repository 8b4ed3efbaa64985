package gitea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrNotConfigured is returned by a client without a Gitea URL.
var ErrNotConfigured = errors.New("gitea is not configured")

// APIError is a non-2xx answer from Gitea.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitea %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// CreateUserOption is the body of POST /admin/users.
type CreateUserOption struct {
	Username           string `json:"username"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	MustChangePassword bool   `json:"must_change_password"`
	SendNotify         bool   `json:"send_notify"`
}

// CreateRepoOption is the body of POST /admin/users/{username}/repos.
type CreateRepoOption struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"private"`
	AutoInit      bool   `json:"auto_init"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// Client talks to the Gitea admin API with a site administrator token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

// NewClient returns a client for the Gitea instance at baseURL, e.g.
// "http://gitea:3000". An empty baseURL gives a client whose calls fail
// with ErrNotConfigured.
func NewClient(baseURL, token string, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		cb:      newBreaker("gitea"),
		log:     log,
	}
}

// CreateUser creates a Gitea user. An existing user is not an error.
func (c *Client) CreateUser(ctx context.Context, opt CreateUserOption) error {
	err := c.do(ctx, http.MethodPost, "/admin/users", opt)
	if isStatus(err, http.StatusConflict, http.StatusUnprocessableEntity) {
		c.log.WithField("username", opt.Username).Debug("gitea user already exists")
		return nil
	}
	return err
}

// DeleteUser removes a Gitea user and purges its repositories. A missing
// user is not an error.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(username)+"?purge=true", nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// CreateRepo creates a repository owned by owner. An existing repository
// is not an error.
func (c *Client) CreateRepo(ctx context.Context, owner string, opt CreateRepoOption) error {
	err := c.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(owner)+"/repos", opt)
	if isStatus(err, http.StatusConflict, http.StatusUnprocessableEntity) {
		c.log.WithField("repo", owner+"/"+opt.Name).Debug("gitea repository already exists")
		return nil
	}
	return err
}

// DeleteRepo deletes owner/name. A missing repository is not an error.
func (c *Client) DeleteRepo(ctx context.Context, owner, name string) error {
	err := c.do(ctx, http.MethodDelete, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, method, path, body)
	})
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func isStatus(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.StatusCode == code {
			return true
		}
	}
	return false
}
