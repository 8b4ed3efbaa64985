package main

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

	"github.com/spf13/viper"
)

// errNoCredentials is returned by client commands run without an API key
// or token.
var errNoCredentials = errors.New("no credentials: set --api-key, SCITEX_API_KEY or SCITEX_TOKEN")

// apiError is a failed response of the gateway.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// apiClient talks to the gateway REST API.
type apiClient struct {
	baseURL string
	auth    string
	http    *http.Client
}

// newAPIClient reads the server URL and credentials from viper. A token
// is preferred over an API key.
func newAPIClient() (*apiClient, error) {
	c := &apiClient{
		baseURL: strings.TrimRight(viper.GetString("server"), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	switch {
	case viper.GetString("token") != "":
		c.auth = "Bearer " + viper.GetString("token")
	case viper.GetString("api_key") != "":
		c.auth = "Api-Key " + viper.GetString("api_key")
	default:
		return nil, errNoCredentials
	}
	return c, nil
}

// do sends body as JSON and decodes a successful response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &failure) != nil || failure.Error == "" {
			failure.Error = strings.TrimSpace(string(data))
		}
		return &apiError{StatusCode: resp.StatusCode, Message: failure.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
