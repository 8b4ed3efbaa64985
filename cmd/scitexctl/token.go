package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// tokenResponse mirrors the body of POST /code/api/auth/token.
type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the API key for an access token",
	Long: `Exchange the API key for a short-lived access token.

The token is printed to STDOUT and can be used through SCITEX_TOKEN.

Example:
  export SCITEX_TOKEN=$(scitexctl token --api-key stx_...)`,
	Run: func(cmd *cobra.Command, args []string) {
		tok, err := issueToken(cmd.Context())
		exitOnError("Failed to get a token", err)
		fmt.Println(tok.Token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func issueToken(ctx context.Context) (*tokenResponse, error) {
	key := viper.GetString("api_key")
	if key == "" {
		return nil, errNoCredentials
	}
	c, err := newAPIClient()
	if err != nil {
		return nil, err
	}
	c.auth = "Api-Key " + key
	var tok tokenResponse
	if err := c.do(ctx, http.MethodPost, "/code/api/auth/token", nil, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}
