package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recoverflow_stream_clients",
		Help: "Number of connected event stream clients",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoverflow_stream_push_total",
		Help: "Total number of events pushed to stream clients",
	})
	ingestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoverflow_ingest_total",
		Help: "Failure notifications ingested by outcome",
	}, []string{"outcome"})
	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoverflow_ingest_errors_total",
		Help: "Failure notifications that could not be ingested",
	}, []string{"reason"})
	conflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoverflow_ingest_conflict_retries_total",
		Help: "Reload-merge-save rounds caused by concurrent writers",
	})
	forwardedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoverflow_retry_forwarded_total",
		Help: "Messages forwarded back to their endpoint",
	})
	batchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoverflow_retry_batches_total",
		Help: "Retry batches that reached a terminal status",
	}, []string{"status"})
	operationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoverflow_retry_operations_total",
		Help: "Completed retry operations",
	}, []string{"failed"})
	operationSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recoverflow_retry_operation_messages",
		Help:    "Number of messages per completed retry operation",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	archiveCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoverflow_archive_messages_total",
		Help: "Messages moved by archive and unarchive",
	}, []string{"action"})
)

type prometheusObserver struct{}

func NewPrometheusObserver() *prometheusObserver {
	return &prometheusObserver{}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	onlineGauge.Inc()
}
func (p *prometheusObserver) DecOnline() {
	onlineGauge.Dec()
}
func (p *prometheusObserver) RecordPush() {
	pushCounter.Inc()
}

func (p *prometheusObserver) RecordIngest(outcome string) {
	ingestCounter.WithLabelValues(outcome).Inc()
}
func (p *prometheusObserver) RecordIngestError(reason string) {
	ingestErrors.WithLabelValues(reason).Inc()
}
func (p *prometheusObserver) RecordConflictRetry() {
	conflictRetries.Inc()
}

func (p *prometheusObserver) RecordForwarded(count int) {
	forwardedCounter.Add(float64(count))
}
func (p *prometheusObserver) RecordBatchFinished(status string) {
	batchCounter.WithLabelValues(status).Inc()
}
func (p *prometheusObserver) RecordOperationCompleted(failed bool, messages int) {
	operationCounter.WithLabelValues(strconv.FormatBool(failed)).Inc()
	operationSize.Observe(float64(messages))
}
func (p *prometheusObserver) RecordArchived(action string, count int) {
	archiveCounter.WithLabelValues(action).Add(float64(count))
}
