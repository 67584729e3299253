package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
}

func TestRunOnceRunsEveryJobAndCombinesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	registry := NewRegistry()
	ok := &stubJob{name: "ok"}
	bad := &stubJob{name: "bad", err: errors.New("boom")}
	last := &stubJob{name: "last", err: errors.New("bang")}
	require.NoError(t, registry.Register(bad))
	require.NoError(t, registry.Register(ok))
	require.NoError(t, registry.Register(last))

	lock := &fakeLock{}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	ran, err := svc.RunOnce(context.Background())
	assert.True(t, ran)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorContains(t, err, "bad: boom")

	for _, job := range []*stubJob{ok, bad, last} {
		assert.Equal(t, 1, job.runs, job.name)
	}
	assert.False(t, lock.held)
	assert.Equal(t, 1, lock.releases)

	count, err := testutil.GatherAndCount(reg, "cron_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	successes, err := testutil.GatherAndCount(reg, "cron_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, successes)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	registry := NewRegistry()
	job := &stubJob{name: "reconcile"}
	require.NoError(t, registry.Register(job))

	svc, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: &fakeLock{held: true}})
	require.NoError(t, err)

	ran, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, job.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	registry := NewRegistry()
	job := &stubJob{name: "tick"}
	require.NoError(t, registry.Register(job))
	svc, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: &fakeLock{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
