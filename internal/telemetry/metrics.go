package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики воркера.
var (
	// MessagesProcessed — обработанные сообщения по status_code ответа
	// ("error" — ответа нет, "dead_letter" — ушло в DLQ).
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anomalix_worker_messages_processed_total",
		Help: "Messages handled by the worker, by response status code or outcome",
	}, []string{"status"})

	// ProcessingDuration — время от получения сообщения до ответа.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anomalix_worker_processing_duration_seconds",
		Help:    "Time spent processing one work queue message",
		Buckets: prometheus.DefBuckets,
	})

	// MessagesRequeued — сообщения, возвращённые в очередь после ошибки.
	MessagesRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomalix_mq_messages_requeued_total",
		Help: "Messages returned to the work queue after a processing error",
	})

	// MessagesDeadLettered — сообщения, отправленные в DLQ.
	MessagesDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomalix_mq_messages_dead_lettered_total",
		Help: "Messages rejected to the dead-letter queue",
	})
)

// Метрики API.
var (
	// RPCDuration — длительность Caller.Call по исходу.
	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anomalix_api_rpc_duration_seconds",
		Help:    "Round trip from publish to matching reply",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// RepliesDiscarded — ответы с чужим correlation id.
	RepliesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomalix_api_replies_discarded_total",
		Help: "Replies dropped by the correlator because the correlation id did not match",
	})

	// IngestRequests — запросы POST /ingest по HTTP статусу.
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anomalix_api_ingest_requests_total",
		Help: "Total /ingest requests by HTTP status",
	}, []string{"status"})
)
