package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsTracksOutcomesAndLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	m.Observe("subscription_reconcile", nil, 2*time.Second, finished)
	m.Observe("subscription_reconcile", errors.New("gateway timeout"), time.Second, finished.Add(time.Hour))
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := counterWithLabels(mfs, "cron_job_runs_total", map[string]string{"job": "subscription_reconcile", "outcome": "success"}); got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}
	if got := counterWithLabels(mfs, "cron_job_runs_total", map[string]string{"job": "subscription_reconcile", "outcome": "failure"}); got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	gauge := findMetricFamily(mfs, "cron_job_last_success_timestamp_seconds")
	if gauge == nil || len(gauge.GetMetric()) != 1 {
		t.Fatalf("expected one last-success gauge")
	}
	if got := gauge.GetMetric()[0].GetGauge().GetValue(); got != float64(finished.Unix()) {
		t.Fatalf("failed run must not move last success: got %f", got)
	}

	hist := findMetricFamily(mfs, "cron_job_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected two duration samples")
	}

	skipped := findMetricFamily(mfs, "cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one skipped cycle")
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.Observe("x", nil, time.Second, time.Now())
	m.IncSkipped()
	NewCronJobMetrics(nil).IncSkipped()
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
