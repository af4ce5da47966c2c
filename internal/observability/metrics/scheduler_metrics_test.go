package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: JobReasonDeadlineExceeded,
		},
		{
			name: "wrapped_deadline",
			err:  fmt.Errorf("ingest:7: %w", context.DeadlineExceeded),
			want: JobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: JobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: JobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: JobReasonUniqueViolation,
		},
		{
			name: "other_pg_error",
			err:  &pgconn.PgError{Code: "08006"},
			want: JobReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: JobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsErrorRetryable(t *testing.T) {
	if !IsErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure to be retryable")
	}
	if IsErrorRetryable(errors.New("bad mapping")) {
		t.Fatalf("expected domain error to be final")
	}
	if IsErrorRetryable(nil) {
		t.Fatalf("expected nil to be non-retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "adl",
		Environment: "test",
	})

	metrics.AddBatchProcessed("ingest", "observations", 3)
	metrics.AddBatchProcessed("ingest", "observations", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("ingest", "observations"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncLockContended(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncLockContended(LockScopeStation)
	metrics.IncLockContended(LockScopeStation)

	got := testutil.ToFloat64(metrics.lockContended.WithLabelValues(LockScopeStation))
	if got != 2 {
		t.Fatalf("expected 2 contended locks, got %v", got)
	}
}
