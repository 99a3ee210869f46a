// Command permitd runs the lifecycle engine as an HTTP daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songzhibin97/gkit/generator"

	"github.com/safeops/lifecycle-engine/api"
	"github.com/safeops/lifecycle-engine/config"
	"github.com/safeops/lifecycle-engine/rules"
	"github.com/safeops/lifecycle-engine/storage"
	"github.com/safeops/lifecycle-engine/types"
	"github.com/safeops/lifecycle-engine/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := newLogger(cfg.Log)

	store, err := newStorage(cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize storage")
	}

	snowflake := generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)
	engine, err := workflow.NewEngine(snowflake, store, rules.NewExprEvaluator(), workflow.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("failed to create engine")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := registerBuiltinFamilies(ctx, engine); err != nil {
		logger.WithError(err).Fatal("failed to register built-in families")
	}

	stopSweeper := engine.StartSweeper(ctx, cfg.Engine.SweepInterval)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.SetupRouter(engine, logger),
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("permitd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown did not finish cleanly")
	}
	stopSweeper()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("engine stop did not finish cleanly")
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newStorage(cfg config.RedisConfig) (storage.Storage, error) {
	if !cfg.Enabled {
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewRedisStorage(storage.RedisOptions{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		IdleTimeout:  cfg.IdleTimeout,
	})
}

// registerBuiltinFamilies seeds the standard family configurations. Each
// can be replaced at runtime through the families API.
func registerBuiltinFamilies(ctx context.Context, engine *workflow.Engine) error {
	families := []types.FamilyConfig{
		{
			Family: types.FamilyPermit,
			Name:   "Work Permit",
			ApprovalSteps: []types.WorkflowStepDef{
				{Order: 1, Role: "hod", Label: "Department head review", Required: true, TimeLimitHours: 4},
				{Order: 2, Role: "safety_incharge", Label: "Safety review", Required: true, TimeLimitHours: 4},
			},
			ClosureSteps: []types.WorkflowStepDef{
				{Order: 1, Role: "safety_incharge", Label: "Closure verification", Required: true, TimeLimitHours: 24},
			},
			ClosureChecklist: []types.ChecklistItem{
				{Key: "area_restored", Prompt: "Work area restored", Kind: types.ChecklistBool, Required: true},
				{Key: "tools_removed", Prompt: "Tools and equipment removed", Kind: types.ChecklistBool, Required: true},
				{Key: "remarks", Prompt: "Remarks", Kind: types.ChecklistText},
			},
			StopWorkRule: `role in ["safety_incharge", "plant_head"]`,
			CloseRule:    `role == "safety_incharge"`,
		},
		{
			Family: types.FamilyHazardClosure,
			Name:   "Hazard Study Closure",
			ApprovalSteps: []types.WorkflowStepDef{
				{Order: 1, Role: "study_lead", Label: "Study lead sign-off", Required: true, TimeLimitHours: 72},
				{Order: 2, Role: "plant_head", Label: "Plant head sign-off", Required: true, TimeLimitHours: 72},
			},
			ExtensionApproverRole: "plant_head",
		},
		{
			Family: types.FamilyIncident,
			Name:   "Incident Investigation",
			ApprovalSteps: []types.WorkflowStepDef{
				{Order: 1, Role: "investigator", Label: "Investigation report", Required: true, TimeLimitHours: 48},
				{Order: 2, Role: "safety_incharge", Label: "Safety review", Required: true, Parallel: true, TimeLimitHours: 48},
				{Order: 3, Role: "hod", Label: "Department review", Required: true, Parallel: true, TimeLimitHours: 48},
				{Order: 4, Role: "plant_head", Label: "Final sign-off", Required: true, TimeLimitHours: 24},
			},
			ClosureSteps: []types.WorkflowStepDef{
				{Order: 1, Role: "plant_head", Label: "Closure approval", Required: true},
			},
			CloseRule: `role in ["investigator", "safety_incharge"]`,
		},
	}

	for _, cfg := range families {
		if err := engine.RegisterFamily(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
