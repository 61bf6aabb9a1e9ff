package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// Reminder asks one student to write today's entry.
type Reminder struct {
	StudentID string        `json:"student_id"`
	Name      string        `json:"name"`
	Group     models.Group  `json:"group"`
	Day       schoolday.Day `json:"day"`
}

// Notifier delivers reminders to students.
type Notifier interface {
	Notify(ctx context.Context, reminder Reminder) error
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisNotifier publishes reminders on a pub/sub channel for push workers.
type RedisNotifier struct {
	pub     publisher
	channel string
}

// NewRedisNotifier builds a notifier publishing to channel.
func NewRedisNotifier(pub publisher, channel string) *RedisNotifier {
	return &RedisNotifier{pub: pub, channel: channel}
}

// Notify publishes the reminder as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, reminder Reminder) error {
	if err := n.pub.Publish(ctx, n.channel, reminder); err != nil {
		return fmt.Errorf("publish reminder for %s: %w", reminder.StudentID, err)
	}
	return nil
}

// LogNotifier only logs; used when Redis is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a notifier that writes to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the reminder.
func (n *LogNotifier) Notify(ctx context.Context, reminder Reminder) error {
	n.logger.Info("journal reminder",
		zap.String("student_id", reminder.StudentID),
		zap.String("group", reminder.Group.String()),
		zap.String("day", reminder.Day.String()))
	return nil
}

type groupLister interface {
	ListGroups(ctx context.Context) ([]models.Group, error)
}

type unsubmittedLister interface {
	Unsubmitted(ctx context.Context, group models.Group, day schoolday.Day) ([]models.User, error)
}

// ReminderConfig tunes the daily reminder run.
type ReminderConfig struct {
	SkipWeekends bool
}

// ReminderService finds students without an entry and notifies them.
type ReminderService struct {
	groups   groupLister
	pending  unsubmittedLister
	notifier Notifier
	boundary *schoolday.Boundary
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      ReminderConfig
}

// NewReminderService constructs the reminder job.
func NewReminderService(groups groupLister, pending unsubmittedLister, notifier Notifier, boundary *schoolday.Boundary, metrics *MetricsService, logger *zap.Logger, cfg ReminderConfig) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if boundary == nil {
		boundary = schoolday.NewBoundary()
	}
	return &ReminderService{groups: groups, pending: pending, notifier: notifier, boundary: boundary, metrics: metrics, logger: logger, cfg: cfg}
}

// Run notifies every student of every group who has no entry on the day
// firedAt falls on. Delivery failures are collected, not fatal.
func (s *ReminderService) Run(ctx context.Context, firedAt time.Time) error {
	day := schoolday.DayOf(firedAt, s.boundary.Location())
	if s.cfg.SkipWeekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
		s.logger.Debug("reminders skipped on weekend", zap.String("day", day.String()))
		return nil
	}

	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	var sent, failed int
	var errs []error
	for _, group := range groups {
		students, err := s.pending.Unsubmitted(ctx, group, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", group, err))
			continue
		}
		for _, student := range students {
			err := s.notifier.Notify(ctx, Reminder{StudentID: student.ID, Name: student.Name, Group: group, Day: day})
			if err != nil {
				failed++
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}

	s.metrics.RecordReminders(sent, failed)
	s.logger.Info("journal reminders dispatched",
		zap.String("day", day.String()),
		zap.Int("groups", len(groups)),
		zap.Int("sent", sent),
		zap.Int("failed", failed))
	return errors.Join(errs...)
}
