package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/api"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/app"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/database"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/directory"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/maintenance"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/sessions"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	AuditSvc *audit.Service
	Sessions *sessions.Manager
	Engine   *overrides.Engine
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.AuditSvc, err = audit.NewService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	sessionStore, err := sessions.NewGormStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise session store: %w", err)
	}

	stack.Sessions = sessions.NewManager(sessions.Config{
		MaxDuration:      cfg.Sessions.MaxDuration,
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		WarningThreshold: cfg.Sessions.WarningWindow,
		RefreshThreshold: cfg.Sessions.RefreshThreshold,
		MaxRefreshCount:  cfg.Sessions.MaxRefreshes,
	},
		sessions.WithStore(sessionStore),
		sessions.WithRecorder(stack.AuditSvc),
	)
	if err := stack.Sessions.Start(ctx); err != nil {
		return nil, fmt.Errorf("rehydrate sessions: %w", err)
	}

	staffDir, err := directory.NewService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise staff directory: %w", err)
	}

	tokenIssuer, err := overrides.NewTokenIssuer(cfg.Overrides.GrantSecret, cfg.Overrides.GrantIssuer, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise token issuer: %w", err)
	}

	overrideStore, err := overrides.NewGormStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise override store: %w", err)
	}

	stack.Engine, err = overrides.NewEngine(overrides.Config{
		RequestTTL:   cfg.Overrides.RequestTTL,
		AuthTTL:      cfg.Overrides.AuthTTL,
		DualApproval: cfg.Overrides.DualApproval,
	},
		staffDir,
		staffDir,
		overrides.WithLockoutStore(staffDir),
		overrides.WithCredentialResetter(staffDir),
		overrides.WithSessionExtender(stack.Sessions),
		overrides.WithMaintenanceScheduler(staffDir),
		overrides.WithTokenIssuer(tokenIssuer),
		overrides.WithStore(overrideStore),
		overrides.WithRecorder(stack.AuditSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise override engine: %w", err)
	}
	if err := stack.Engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("rehydrate override requests: %w", err)
	}

	stack.Cleaner, err = maintenance.NewCleaner(maintenance.Config{
		SweepSchedule:      cfg.Audit.SweepSchedule,
		AuditRetentionDays: cfg.Audit.RetentionDays,
	}, stack.Sessions, stack.Engine, maintenance.WithAuditService(stack.AuditSvc))
	if err != nil {
		return nil, fmt.Errorf("initialise maintenance jobs: %w", err)
	}
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, stack.Sessions, stack.Engine, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		s.Cleaner.Stop()
	}
	if s.Engine != nil {
		s.Engine.Shutdown()
	}
	if s.Sessions != nil {
		s.Sessions.Shutdown()
	}
	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
