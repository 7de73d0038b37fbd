package storage

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/mongo"
)

const slowOperationThreshold = 100 * time.Millisecond

var (
	dbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongocrud_db_operation_duration_seconds",
			Help:    "MongoDB operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"collection", "operation"},
	)

	dbOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongocrud_db_operations_total",
			Help: "Total number of MongoDB operations",
		},
		[]string{"collection", "operation"},
	)

	dbOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongocrud_db_operation_errors_total",
			Help: "Total number of failed MongoDB operations",
		},
		[]string{"collection", "operation"},
	)

	dbSlowOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongocrud_db_slow_operations_total",
			Help: "Total number of MongoDB operations slower than 100ms",
		},
		[]string{"collection", "operation"},
	)
)

// Observe runs fn and records its duration and outcome under the given labels.
// An empty single-document lookup is not counted as a failure.
func Observe(collection, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	dbOperationsTotal.WithLabelValues(collection, operation).Inc()
	dbOperationDuration.WithLabelValues(collection, operation).Observe(elapsed.Seconds())
	if elapsed > slowOperationThreshold {
		dbSlowOperations.WithLabelValues(collection, operation).Inc()
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		dbOperationErrors.WithLabelValues(collection, operation).Inc()
	}
	return err
}
