package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("poll: %w", context.DeadlineExceeded), want: FailureReasonDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: FailureReasonCanceled},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: FailureReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: FailureReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: FailureReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: FailureReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailureReason(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestWorkerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWorkerMetrics(registry, Config{ServiceName: "provisioning-test", Environment: "test"})

	m.ObserveJob("completed", 2*time.Second)
	m.ObserveJob("failed", time.Second)
	m.ObserveJob("completed", time.Second)
	m.IncStepResult("entraInvite", "success")
	m.IncStepResult("teams", "failure")
	m.IncCallbackFailure()
	m.IncDelivery("ack")
	m.IncPollError(&pgconn.PgError{Code: "55P03"})

	if got := testutil.ToFloat64(m.jobs.WithLabelValues("completed")); got != 2 {
		t.Fatalf("expected 2 completed jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed job, got %v", got)
	}
	if got := testutil.ToFloat64(m.stepResults.WithLabelValues("teams", "failure")); got != 1 {
		t.Fatalf("expected 1 teams failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.callbackFailure); got != 1 {
		t.Fatalf("expected 1 callback failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.pollErrors.WithLabelValues(FailureReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 lock timeout, got %v", got)
	}
}

func TestNilWorkerMetricsIsSafe(t *testing.T) {
	var m *WorkerMetrics
	m.ObserveJob("completed", time.Second)
	m.IncStepResult("teams", "success")
	m.IncCallbackFailure()
	m.IncDelivery("ack")
	m.IncPollError(errors.New("boom"))
}
