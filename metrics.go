package cellrope

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opsSubmitted counts locally produced ops handed to a submitter, by op type
	opsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellrope_ops_submitted_total",
		Help: "Structural changes submitted to collaborators by op type",
	}, []string{"type"})

	// opsApplied counts remote or replayed ops applied to a chain
	opsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellrope_ops_applied_total",
		Help: "Remote or replayed structural changes applied by op type",
	}, []string{"type"})

	// segmentSplits counts segment splits by segment kind
	segmentSplits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellrope_segment_splits_total",
		Help: "Segment splits by segment kind",
	}, []string{"kind"})

	// segmentMerges counts segment appends performed by compaction
	segmentMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellrope_segment_merges_total",
		Help: "Adjacent segments merged by segment kind",
	}, []string{"kind"})

	// columnMoveRows tracks how many rows each column insertion or removal touched
	columnMoveRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cellrope_column_move_rows",
		Help:    "Rows rewritten per column insertion or removal",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~260k rows
	})
)
