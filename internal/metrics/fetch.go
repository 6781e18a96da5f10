package metrics

import (
	"time"

	"coinview/logger"
)

// Metric names emitted by the refresh path.
const (
	MetricFetchSuccess      = "fetch_success"
	MetricFetchError        = "fetch_error"
	MetricFetchDuration     = "fetch_duration_seconds"
	MetricSnapshotRecords   = "snapshot_records"
	MetricRefreshDropped    = "refresh_dropped"
	MetricRateLimitExceeded = "rate_limit_exceeded"
	MetricArchiveWritten    = "archive_written"
	MetricArchiveDropped    = "archive_dropped"
)

// ReportFetchSuccess records a completed fetch from source.
func ReportFetchSuccess(log *logger.Log, source string, records int, duration time.Duration) {
	fields := logger.Fields{"source": source}
	EmitMetric(log, "refresh_scheduler", MetricFetchSuccess, 1, "counter", fields)
	EmitMetric(log, "refresh_scheduler", MetricFetchDuration, duration.Seconds(), "histogram", logger.Fields{"source": source, "unit": "seconds"})
	EmitMetric(log, "refresh_scheduler", MetricSnapshotRecords, records, "gauge", fields)
}

// ReportFetchError records a failed fetch. kind is the notice kind raised for
// it.
func ReportFetchError(log *logger.Log, source, kind string, duration time.Duration) {
	EmitMetric(log, "refresh_scheduler", MetricFetchError, 1, "counter", logger.Fields{"source": source, "kind": kind})
	EmitMetric(log, "refresh_scheduler", MetricFetchDuration, duration.Seconds(), "histogram", logger.Fields{"source": source, "unit": "seconds"})
}

// ReportRefreshDropped records a trigger ignored because a fetch was already
// in flight.
func ReportRefreshDropped(log *logger.Log, trigger string) {
	EmitMetric(log, "refresh_scheduler", MetricRefreshDropped, 1, "counter", logger.Fields{"trigger": trigger})
}

// ReportRateLimitExceeded records a rate limit response from source and logs
// it as a warning.
func ReportRateLimitExceeded(log *logger.Log, source, detail string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"source": source}
	EmitMetric(log, source+"_reader", MetricRateLimitExceeded, 1, "counter", fields)
	log.WithComponent(source + "_reader").WithFields(logger.Fields{"source": source, "detail": detail}).Warn("rate limit exceeded")
}

// ReportArchive records the outcome of one archive attempt.
func ReportArchive(log *logger.Log, source string, written bool) {
	name := MetricArchiveWritten
	if !written {
		name = MetricArchiveDropped
	}
	EmitMetric(log, "archive_writer", name, 1, "counter", logger.Fields{"source": source})
}
