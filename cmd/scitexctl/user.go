package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/gitea"
	"github.com/scitex/scitex-cloud/pkg/model"
	storegorm "github.com/scitex/scitex-cloud/pkg/server/store/gorm"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage gateway users",
	Long:  `Create and delete gateway users. Users are mirrored to Gitea when GITEA_URL is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'user' requires a subcommand (create, delete)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username> <email>",
	Short: "Create a user",
	Long: `Create a user.

The user's Gitea account is created by a worker consuming the sync queue.

Example:
  scitexctl user create alice alice@example.org`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		user, err := createUser(cmd.Context(), args[0], args[1])
		exitOnError("Failed to create user", err)
		fmt.Fprintf(os.Stderr, "Created user '%s'\n", user.Username)
		fmt.Println(user.ID)
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError("Failed to delete user", deleteUser(cmd.Context(), args[0]))
		fmt.Fprintf(os.Stderr, "Deleted user '%s'\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
}

// adminRuntime is a runtime whose model hooks enqueue gitea sync tasks.
func adminRuntime() (*runtime, error) {
	rt, err := newRuntime("admin")
	if err != nil {
		return nil, err
	}
	if rt.cfg.GiteaURL != "" {
		gitea.Connect(rt.signals, rt.dispatcher, rt.log.WithField("component", "gitea"))
	}
	return rt, nil
}

func createUser(ctx context.Context, username, email string) (*model.User, error) {
	rt, err := adminRuntime()
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	user := &model.User{Username: username, Email: email}
	if err := storegorm.NewUsersStore(rt.db).CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func deleteUser(ctx context.Context, username string) error {
	rt, err := adminRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	users := storegorm.NewUsersStore(rt.db)
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return users.DeleteUser(ctx, user)
}
