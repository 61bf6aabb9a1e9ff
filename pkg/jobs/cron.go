package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is the work a Cron entry performs on each firing.
type Task func(ctx context.Context, firedAt time.Time) error

// Cron runs named tasks on standard five-field cron specs evaluated in a
// fixed location. A firing that overlaps a still-running one is skipped, and
// missed firings (process down) are not replayed.
type Cron struct {
	cron   *cron.Cron
	loc    *time.Location
	logger *zap.Logger

	mu   sync.RWMutex
	base context.Context
	stop context.CancelFunc
}

// NewCron builds a scheduler evaluating specs in loc.
func NewCron(loc *time.Location, logger *zap.Logger) *Cron {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Cron{
		cron:   cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		loc:    loc,
		logger: logger,
		base:   context.Background(),
	}
}

// DailySpec fires every day at hour:minute.
func DailySpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// WeeklySpec fires every weekday at hour:minute.
func WeeklySpec(weekday time.Weekday, hour, minute int) string {
	return fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday))
}

// Add registers task under spec.
func (c *Cron) Add(name, spec string, task Task) error {
	logger := c.logger.With(zap.String("schedule", name))
	_, err := c.cron.AddFunc(spec, func() {
		c.mu.RLock()
		ctx := c.base
		c.mu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		firedAt := time.Now().In(c.loc)
		if err := task(ctx, firedAt); err != nil {
			logger.Error("scheduled task failed", zap.Error(err))
			return
		}
		logger.Info("scheduled task completed", zap.Time("fired_at", firedAt))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	logger.Info("task scheduled", zap.String("spec", spec))
	return nil
}

// Len reports how many tasks are registered.
func (c *Cron) Len() int {
	return len(c.cron.Entries())
}

// Start begins firing; tasks receive a context derived from ctx.
func (c *Cron) Start(ctx context.Context) {
	c.mu.Lock()
	c.base, c.stop = context.WithCancel(ctx)
	c.mu.Unlock()
	c.cron.Start()
}

// Stop halts firing and waits for running tasks to return.
func (c *Cron) Stop() {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
	}
	c.mu.Unlock()
	<-c.cron.Stop().Done()
}

// cronLogger routes the scheduler's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
