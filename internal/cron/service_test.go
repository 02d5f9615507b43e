package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/metrics"
)

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.releases++
	f.held = false
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

func newTestService(t *testing.T, lock Lock, m *metrics.JobMetrics, jobs ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewJobMetrics(reg)
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newTestService(t, lock, m, success, failure)

	err := service.runCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fail: boom") {
		t.Fatalf("expected combined job error, got %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", success.runs, failure.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("expected lock released once")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	recorded := map[string]int{}
	for _, mf := range families {
		recorded[mf.GetName()] = len(mf.GetMetric())
	}
	if recorded["ledger_job_success_total"] != 1 || recorded["ledger_job_failure_total"] != 1 {
		t.Fatalf("expected one success and one failure series, got %v", recorded)
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "reconcile"}
	lock := &fakeLock{held: true}
	service := newTestService(t, lock, nil, job)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped")
	}
	if lock.releases != 0 {
		t.Fatalf("lock should not be released when not acquired")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "reconcile"}
	service := newTestService(t, &LocalLock{}, nil, job)
	service.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := service.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if job.runs < 2 {
		t.Fatalf("expected immediate run plus ticks, got %d", job.runs)
	}
}

func TestLocalLockIsExclusive(t *testing.T) {
	var l LocalLock
	ok, _ := l.Acquire(context.Background())
	if !ok {
		t.Fatalf("first acquire should succeed")
	}
	if ok, _ := l.Acquire(context.Background()); ok {
		t.Fatalf("second acquire should fail while held")
	}
	_ = l.Release(context.Background())
	if ok, _ := l.Acquire(context.Background()); !ok {
		t.Fatalf("acquire after release should succeed")
	}
}
