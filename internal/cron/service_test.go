package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type leaseCall struct {
	job string
	ttl time.Duration
}

type fakeLock struct {
	held       map[string]string
	acquired   []leaseCall
	released   []string
	acquireErr map[string]error
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]string{}, acquireErr: map[string]error{}}
}

func (f *fakeLock) Acquire(_ context.Context, job string, ttl time.Duration) (string, error) {
	if err := f.acquireErr[job]; err != nil {
		return "", err
	}
	if _, ok := f.held[job]; ok {
		return "", nil
	}
	f.acquired = append(f.acquired, leaseCall{job: job, ttl: ttl})
	token := "token-" + job
	f.held[job] = token
	return token, nil
}

func (f *fakeLock) Release(_ context.Context, job, token string) error {
	if f.held[job] == token {
		delete(f.held, job)
	}
	f.released = append(f.released, job)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

var testCronConfig = config.CronConfig{Interval: time.Minute, LockTTL: 5 * time.Minute}

func newTestService(t *testing.T, registry *Registry, lock Lock, m *metrics.CronJobMetrics) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Config:   testCronConfig,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	poll := &testJob{name: "payment-poll"}
	expiry := &testJob{name: "order-expiry", err: errors.New("boom")}
	lock := newFakeLock()
	service := newTestService(t, NewRegistry().Schedule(poll, 0).Schedule(expiry, 0), lock, nil)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("job failures must not fail the cycle: %v", err)
	}
	if poll.runs != 1 || expiry.runs != 1 {
		t.Fatalf("expected each job to run once, got poll=%d expiry=%d", poll.runs, expiry.runs)
	}
	for _, call := range lock.acquired {
		if call.ttl != 5*time.Minute {
			t.Fatalf("every-tick job %s should lease for LockTTL, got %s", call.job, call.ttl)
		}
	}
	if len(lock.held) != 0 {
		t.Fatalf("every-tick leases must be released, still held: %v", lock.held)
	}
}

func TestServiceWindowedJobKeepsLeaseUntilWindowEnds(t *testing.T) {
	retention := &testJob{name: "outbox-retention"}
	lock := newFakeLock()
	service := newTestService(t, NewRegistry().Schedule(retention, 6*time.Hour), lock, nil)
	ctx := context.Background()

	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if retention.runs != 1 {
		t.Fatalf("windowed job must run once per window, ran %d", retention.runs)
	}
	if len(lock.acquired) != 1 || lock.acquired[0].ttl != 6*time.Hour {
		t.Fatalf("expected one 6h lease, got %+v", lock.acquired)
	}
	if len(lock.released) != 0 {
		t.Fatalf("successful windowed run must keep its lease, released %v", lock.released)
	}
}

func TestServiceWindowedJobFailureReleasesLease(t *testing.T) {
	expiry := &testJob{name: "order-expiry", err: errors.New("db down")}
	lock := newFakeLock()
	service := newTestService(t, NewRegistry().Schedule(expiry, 5*time.Minute), lock, nil)
	ctx := context.Background()

	_ = service.runCycle(ctx)
	_ = service.runCycle(ctx)
	if expiry.runs != 2 {
		t.Fatalf("failed windowed job should retry next tick, ran %d", expiry.runs)
	}
}

func TestServiceSkipsJobLeasedElsewhere(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	poll := &testJob{name: "payment-poll"}
	expiry := &testJob{name: "order-expiry"}
	lock := newFakeLock()
	lock.held["payment-poll"] = "other-worker"
	service := newTestService(t, NewRegistry().Schedule(poll, 0).Schedule(expiry, 0), lock, m)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if poll.runs != 0 {
		t.Fatalf("job leased by another worker must not run, ran %d", poll.runs)
	}
	if expiry.runs != 1 {
		t.Fatalf("unrelated job must still run, ran %d", expiry.runs)
	}
	if lock.held["payment-poll"] != "other-worker" {
		t.Fatal("skipped job must not touch the other worker's lease")
	}
	if got := runCount(t, reg, "payment-poll", metrics.CronResultSkipped); got != 1 {
		t.Fatalf("expected 1 skipped run, got %v", got)
	}
	if got := runCount(t, reg, "order-expiry", metrics.CronResultSuccess); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
}

func TestServiceLeaseErrorIsReturnedAndOtherJobsRun(t *testing.T) {
	poll := &testJob{name: "payment-poll"}
	expiry := &testJob{name: "order-expiry"}
	lock := newFakeLock()
	lock.acquireErr["payment-poll"] = errors.New("redis unavailable")
	service := newTestService(t, NewRegistry().Schedule(poll, 0).Schedule(expiry, 0), lock, nil)

	err := service.runCycle(context.Background())
	if err == nil {
		t.Fatal("expected lease error")
	}
	if poll.runs != 0 || expiry.runs != 1 {
		t.Fatalf("unexpected runs poll=%d expiry=%d", poll.runs, expiry.runs)
	}
}

func TestNewServiceFallsBackToDefaultCadence(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Lock:   newFakeLock(),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if service.tick != time.Minute || service.leaseTTL != 5*time.Minute {
		t.Fatalf("unexpected defaults tick=%s lease=%s", service.tick, service.leaseTTL)
	}
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{})}); err == nil {
		t.Fatal("expected error without lock")
	}
}

func runCount(t *testing.T, reg *prometheus.Registry, job, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "cron_job_runs_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["job"] == job && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
