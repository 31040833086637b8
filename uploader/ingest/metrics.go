package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylight_upload_records_processed_total",
		Help: "Number of records successfully resolved and written",
	})
	recordsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylight_upload_records_failed_total",
		Help: "Number of records that failed resolution",
	})
	linesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylight_upload_lines_skipped_total",
		Help: "Number of input lines skipped as malformed or invalid",
	})
	batchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skylight_upload_batch_retries_total",
		Help: "Number of result batch retry attempts",
	})
)
