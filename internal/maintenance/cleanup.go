package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/sessions"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/logger"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultSweepSchedule  = "*/5 * * * *"
	DefaultAuditRetention = 90
	defaultSweepTimeout   = 30 * time.Second
)

// Config describes the periodic cleanup behaviour.
type Config struct {
	// SweepSchedule is a standard cron expression for the sweep cadence.
	SweepSchedule string
	// AuditRetentionDays bounds how long audit log rows are kept.
	AuditRetentionDays int
}

func (c *Config) applyDefaults() {
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = DefaultAuditRetention
	}
}

// Cleaner runs the periodic housekeeping sweeps: expired session cleanup, the
// override-expiry backstop, and audit log retention. Timers remain the primary
// expiry mechanism; the sweeps recover anything a lost timer left behind.
type Cleaner struct {
	cfg      Config
	cron     *cron.Cron
	sessions *sessions.Manager
	engine   *overrides.Engine
	audits   *audit.Service
	log      *zap.Logger
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithAuditService wires the audit retention sweep.
func WithAuditService(audits *audit.Service) Option {
	return func(c *Cleaner) { c.audits = audits }
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cleaner) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCleaner constructs the housekeeping runner.
func NewCleaner(cfg Config, sessionManager *sessions.Manager, engine *overrides.Engine, opts ...Option) (*Cleaner, error) {
	if sessionManager == nil {
		return nil, errors.New("maintenance: session manager is required")
	}
	if engine == nil {
		return nil, errors.New("maintenance: override engine is required")
	}

	cfg.applyDefaults()

	c := &Cleaner{
		cfg:      cfg,
		cron:     cron.New(),
		sessions: sessionManager,
		engine:   engine,
		log:      logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start registers the sweep job and begins the cron scheduler.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
		defer cancel()
		if err := c.RunOnce(ctx); err != nil {
			c.log.Warn("maintenance sweep finished with errors", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	c.log.Info("maintenance sweeps scheduled", zap.String("schedule", c.cfg.SweepSchedule))
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs a single housekeeping pass. Each sweep runs even when an
// earlier one fails; the errors are aggregated.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	var errs error

	removed := c.sessions.CleanupExpired(ctx)
	expired := c.engine.ExpireStale(ctx)

	var pruned int64
	if c.audits != nil {
		var err error
		pruned, err = c.audits.CleanupOlderThan(ctx, c.cfg.AuditRetentionDays)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	c.log.Debug("maintenance sweep complete",
		zap.Int("sessions_removed", removed),
		zap.Int("overrides_expired", expired),
		zap.Int64("audit_rows_pruned", pruned))

	return errs
}
