package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	var results int32
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond, OnResult: func(Job, error, time.Duration) {
		atomic.AddInt32(&results, 1)
	}})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "entries"}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&results) == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("reports", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestCronSpecsFireInLocation(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	now := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC).In(jst) // 09:00 Thursday

	daily, err := cron.ParseStandard(DailySpec(8, 0))
	require.NoError(t, err)
	assert.True(t, daily.Next(now).Equal(time.Date(2025, 4, 11, 8, 0, 0, 0, jst)))

	weekly, err := cron.ParseStandard(WeeklySpec(time.Friday, 18, 30))
	require.NoError(t, err)
	assert.True(t, weekly.Next(now).Equal(time.Date(2025, 4, 11, 18, 30, 0, 0, jst)))
	assert.True(t, weekly.Next(weekly.Next(now)).Equal(time.Date(2025, 4, 18, 18, 30, 0, 0, jst)))
}

func TestCronRejectsBadSpec(t *testing.T) {
	c := NewCron(time.UTC, nil)
	err := c.Add("broken", "61 25 * * *", func(context.Context, time.Time) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, c.Len())
}

func TestCronFiresAndStops(t *testing.T) {
	var fired int32
	c := NewCron(time.UTC, nil)
	require.NoError(t, c.Add("tick", "@every 1s", func(ctx context.Context, firedAt time.Time) error {
		atomic.AddInt32(&fired, 1)
		return errors.New("reported, not fatal")
	}))
	assert.Equal(t, 1, c.Len())

	c.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) >= 1 }, 3*time.Second, 20*time.Millisecond)
	c.Stop()

	n := atomic.LoadInt32(&fired)
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&fired))
}
