package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/model"
	storegorm "github.com/scitex/scitex-cloud/pkg/server/store/gorm"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'apikey' requires a subcommand (create)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an API key for a user",
	Long: `Create an API key for a user.

The key is printed once to STDOUT; only its hash is stored.

Example:
  scitexctl apikey create alice --name laptop
  scitexctl apikey create alice --name ci --expires 720h`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		expires, _ := cmd.Flags().GetDuration("expires")

		key, plain, err := createAPIKey(cmd.Context(), args[0], name, expires)
		exitOnError("Failed to create API key", err)
		fmt.Fprintf(os.Stderr, "Created API key '%s' (%s) for '%s'\n", key.Name, key.Prefix, args[0])
		fmt.Println(plain)
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCreateCmd.Flags().StringP("name", "n", "default", "name of the key")
	apikeyCreateCmd.Flags().Duration("expires", 0, "lifetime of the key (default: never expires)")
}

func createAPIKey(ctx context.Context, username, name string, expires time.Duration) (*model.APIKey, string, error) {
	rt, err := newRuntime("admin")
	if err != nil {
		return nil, "", err
	}
	defer rt.Close()

	users := storegorm.NewUsersStore(rt.db)
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}

	var expiresAt *time.Time
	if expires > 0 {
		at := time.Now().Add(expires).UTC()
		expiresAt = &at
	}
	key, plain, err := model.NewAPIKey(user.ID, name, expiresAt)
	if err != nil {
		return nil, "", err
	}
	if err := users.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	rt.audit.Log(audit.APIKeyEvent{UserID: user.ID.String(), KeyPrefix: key.Prefix, KeyName: key.Name, ClientIP: "127.0.0.1"})
	return key, plain, nil
}
