package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/audit"
	"github.com/scitex/scitex-cloud/pkg/config"
	"github.com/scitex/scitex-cloud/pkg/db"
	"github.com/scitex/scitex-cloud/pkg/logging"
	"github.com/scitex/scitex-cloud/pkg/signals"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// runtime holds what the server and the worker share: configuration,
// logger, database and the task queue.
type runtime struct {
	cfg        *config.Config
	log        *logrus.Logger
	db         *gorm.DB
	signals    *signals.Dispatcher
	broker     tasks.Broker
	router     *tasks.Router
	dispatcher *tasks.Dispatcher
	audit      *audit.Logger
	auditStore *audit.Store
}

// loadConfig reads scitex.yml and the environment, validates the result and
// makes it the global configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config.Set(cfg)
	return cfg, nil
}

// newRuntime connects everything a long running command needs.
func newRuntime(component string) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	entry := log.WithField("component", component)

	rt := &runtime{cfg: cfg, log: log, signals: signals.NewDispatcher()}

	rt.db, err = db.Connect(db.Config{LogLevel: cfg.LogLevel, Log: log, Signals: rt.signals})
	if err != nil {
		return nil, err
	}

	rt.broker, err = tasks.NewBroker(cfg.BrokerURL, time.Duration(cfg.ResultTTL)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("task broker: %w", err)
	}
	rt.router, err = tasks.RouterFromConfig(cfg)
	if err != nil {
		_ = rt.broker.Close()
		return nil, fmt.Errorf("task routes: %w", err)
	}
	rt.dispatcher = tasks.NewDispatcher(rt.broker, rt.router, entry)

	rt.auditStore, err = audit.NewStore(db.URL())
	if err != nil {
		entry.WithError(err).Warn("audit messages will not be persisted")
	}
	// Admin commands print their results on stdout.
	auditOut := os.Stdout
	if component == "admin" {
		auditOut = os.Stderr
	}
	rt.audit = audit.NewLogger(auditOut).WithErrorLog(entry)
	if rt.auditStore != nil {
		rt.audit = rt.audit.WithStore(rt.auditStore)
	}
	rt.audit.SetEnabled(cfg.AuditEnabled)

	entry.WithFields(logrus.Fields{
		"config":      cfg.ConfigFilePath(),
		"broker_from": cfg.Source("broker_url"),
		"version":     version,
	}).Info("runtime initialised")
	return rt, nil
}

// reconfigure applies a reloaded configuration to the parts that support it.
func (rt *runtime) reconfigure(cfg *config.Config) {
	rt.cfg = cfg
	rt.audit.SetEnabled(cfg.AuditEnabled)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		rt.log.SetLevel(level)
	}
	if err := rt.router.Update(tasks.RoutesFromConfig(cfg), cfg.DefaultQueue); err != nil {
		rt.log.WithError(err).Error("keeping previous task routes")
	}
}

func (rt *runtime) Close() {
	if rt.broker != nil {
		_ = rt.broker.Close()
	}
	if rt.auditStore != nil {
		_ = rt.auditStore.Close()
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
