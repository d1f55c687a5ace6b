package recordstore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"medigate/pkg/domain"
)

// Store is the durable keyed record store. Get returns sentinel.ErrNotFound
// for a missing subject; it never panics and never invents an aggregate.
type Store interface {
	Upsert(ctx context.Context, record HealthRecordAggregate, mode WriteMode) (WriteResult, error)
	Get(ctx context.Context, subjectID domain.SubjectID) (HealthRecordAggregate, error)
	Delete(ctx context.Context, subjectID domain.SubjectID) error
	ListAll(ctx context.Context) ([]HealthRecordAggregate, error)
}

var (
	upsertDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medigate_recordstore_upsert_duration_ms",
		Help:    "Latency of record store upserts in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"backend", "mode"})

	degradations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medigate_recordstore_degradations_total",
		Help: "Times the durable backend failed and writes fell back to memory",
	})
)
