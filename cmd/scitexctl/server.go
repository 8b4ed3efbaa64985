package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/authenticator/authn"
	"github.com/scitex/scitex-cloud/pkg/authenticator/token"
	"github.com/scitex/scitex-cloud/pkg/config"
	"github.com/scitex/scitex-cloud/pkg/gitea"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/server"
	"github.com/scitex/scitex-cloud/pkg/server/endpoints"
	"github.com/scitex/scitex-cloud/pkg/server/middleware"
	storegorm "github.com/scitex/scitex-cloud/pkg/server/store/gorm"
)

func defaultBindAddress() string {
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		return addr
	}
	return "0.0.0.0"
}

func defaultPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8000"
}

func defaultPortInt() int {
	if p, err := strconv.Atoi(defaultPort()); err == nil {
		return p
	}
	return 8000
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the gateway API server",
	Long: `Run the gateway API server.

The server needs DATABASE_URL and SCITEX_JWT_SECRET. It polls SLURM for the
state of active jobs and reloads scitex.yml when the file changes.

By default, database migrations are run on startup. Use --no-migrate to skip.`,
	Run: func(cmd *cobra.Command, args []string) {
		if os.Getenv("DATABASE_URL") == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL environment variable is required")
			os.Exit(1)
		}

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			exitOnError("Migration failed", runMigrations())
		}

		host, _ := cmd.Flags().GetString("bind-address")
		port, _ := cmd.Flags().GetString("port")
		exitOnError("Server failed", runServer(host, port))
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringP("port", "p", defaultPort(), "server listen port")
	serverCmd.Flags().StringP("bind-address", "b", defaultBindAddress(), "server bind address")
	serverCmd.Flags().Bool("no-migrate", false, "skip running database migrations on start")
}

func runServer(host, port string) error {
	rt, err := newRuntime("server")
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.log

	manager, err := jobs.ManagerFromConfig(rt.cfg, log)
	if err != nil {
		return fmt.Errorf("slurm: %w", err)
	}

	users := storegorm.NewUsersStore(rt.db)
	projects := storegorm.NewProjectsStore(rt.db)
	jobsStore := storegorm.NewJobsStore(rt.db)

	s := server.NewServer(log, host, port)
	s.Version = version
	s.UsersStore = users
	s.ProjectsStore = projects
	s.JobsStore = jobsStore
	s.HealthStore = storegorm.NewHealthStore(rt.db)
	s.Broker = rt.broker
	s.Tasks = rt.dispatcher
	s.Audit = rt.audit
	s.Jobs = jobs.NewService(jobsStore, projects, manager, rt.dispatcher, jobs.LimitsFromConfig(rt.cfg), log.WithField("component", "jobs"))

	registry := authenticator.NewRegistry()
	s.APIKeys = authn.New(users, log.WithField("component", "authn"))
	registry.Register(s.APIKeys)
	if rt.cfg.JWTSecret != "" {
		s.Tokens, err = token.New(rt.cfg.JWTSecret, rt.cfg.TokenLifetime())
		if err != nil {
			return err
		}
		registry.Register(s.Tokens)
	} else {
		log.Warn("SCITEX_JWT_SECRET is not set; only API keys are accepted")
	}
	applyAuthenticators(registry, rt.cfg.Authenticators, log)
	s.Authenticators = registry
	s.Auth = middleware.NewAuth(registry, rt.audit, log.WithField("component", "auth"))

	if rt.cfg.GiteaURL != "" {
		gitea.Connect(rt.signals, rt.dispatcher, log.WithField("component", "gitea"))
	} else {
		log.Info("GITEA_URL is not set; users and projects are not mirrored")
	}

	endpoints.RegisterAll(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := jobs.NewPoller(s.Jobs, rt.cfg.PollEvery(), log.WithField("component", "poller"))
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("job poller stopped")
		}
	}()

	go func() {
		err := config.Watch(ctx, log.WithField("component", "config"), func(cfg *config.Config) {
			rt.reconfigure(cfg)
			applyAuthenticators(registry, cfg.Authenticators, log)
			poller.SetInterval(cfg.PollEvery())
			m, err := jobs.ManagerFromConfig(cfg, log)
			if err != nil {
				log.WithError(err).Error("keeping previous slurm settings")
				return
			}
			s.Jobs.Configure(m, jobs.LimitsFromConfig(cfg))
			log.Info("configuration reloaded")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("configuration reload disabled")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"address": host + ":" + port, "version": version}).Info("running server")
	return s.Start()
}

// applyAuthenticators enables the configured authenticators and disables
// the rest.
func applyAuthenticators(registry *authenticator.Registry, names []string, log logrus.FieldLogger) {
	if missing := registry.Apply(names); len(missing) > 0 {
		log.WithField("authenticators", missing).Warn("configured authenticators are not installed")
	}
	log.WithField("authenticators", registry.Enabled()).Info("authenticators enabled")
}
