package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "expire-pending-orders"
	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := counterValue(t, mfs, "storefront_cron_job_runs_total", map[string]string{"job": job, "result": "success"}); got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}
	if got := counterValue(t, mfs, "storefront_cron_job_runs_total", map[string]string{"job": job, "result": "failure"}); got != 2 {
		t.Fatalf("expected failure=2, got %f", got)
	}

	mf := findMetricFamily(mfs, "storefront_cron_job_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected duration histogram with positive sum")
	}
}

func TestOrderMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.ObserveReservation("game", OutcomeReserved)
	m.ObserveReservation("game", OutcomeReserved)
	m.ObserveReservation("merch", OutcomeInsufficient)
	m.ObserveTransition("pending", "paid")
	m.ObserveWebhook("payment_intent.succeeded", "processed")
	m.ObserveNotify("email", errors.New("smtp down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := counterValue(t, mfs, "storefront_reservations_total", map[string]string{"kind": "game", "outcome": "reserved"}); got != 2 {
		t.Fatalf("expected 2 game reservations, got %f", got)
	}
	if got := counterValue(t, mfs, "storefront_order_transitions_total", map[string]string{"from": "pending", "to": "paid"}); got != 1 {
		t.Fatalf("expected 1 transition, got %f", got)
	}
	if got := counterValue(t, mfs, "storefront_notify_deliveries_total", map[string]string{"sink": "email", "result": "failure"}); got != 1 {
		t.Fatalf("expected 1 notify failure, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *OrderMetrics
	m.ObserveReservation("game", OutcomeConflict)
	m.ObserveWebhook("x", "y")

	var c *CronJobMetrics
	c.IncSuccess("job")

	unregistered := NewOrderMetrics(nil)
	unregistered.ObserveTransition("pending", "paid")
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		t.Fatalf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("%s", fmt.Sprintf("metric %q missing labels %v", name, labels))
	return 0
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
