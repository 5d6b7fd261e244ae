package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyJobError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, ReasonDeadlineExceeded},
		{"wrapped deadline", fmt.Errorf("sweep: %w", context.DeadlineExceeded), ReasonDeadlineExceeded},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ReasonLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, ReasonSerializationFailure},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ReasonSerializationFailure},
		{"unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ReasonUniqueViolation},
		{"unknown", errors.New("boom"), ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobError(tc.err))
		})
	}
}

func TestCounters(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.ObserveScan(DirectionEntry, "OK")
	m.ObserveScan(DirectionEntry, "OK")
	m.ObserveScan(DirectionExit, "TAMPERED")
	m.ObserveCharge(10, 2)
	m.ObservePayment(15)
	m.AddOverdue(3)
	m.ObserveJobError("overdue_sweep", errors.New("boom"))
	m.SetGateConnections(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans.WithLabelValues(DirectionEntry, "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues(DirectionExit, "TAMPERED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.discounts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payments))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.paymentAmount))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.overdueFlagged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("overdue_sweep", ReasonUnknown)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.gateConns))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveScan(DirectionEntry, "OK")
	m.ObserveCharge(1, 0)
	m.ObservePayment(1)
	m.AddOverdue(1)
	m.ObserveJobError("job", errors.New("x"))
	m.SetGateConnections(1)
	require.NotNil(t, m.Handler())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())
	m.ObserveScan(DirectionExit, "OK")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `parkwise_gate_scans_total{direction="exit",outcome="OK"} 1`)
}
