package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	executionStatusTotal *prometheus.CounterVec

	llmCallsTotal    *prometheus.CounterVec
	llmRetriesTotal  *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
	llmCallDuration  *prometheus.HistogramVec
	llmFirstChunkLag *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	permissionRequestsTotal *prometheus.CounterVec
	notificationsTotal      *prometheus.CounterVec

	webhookRequestsTotal   *prometheus.CounterVec
	webhookRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "otto_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "otto_queue_task_duration_seconds",
					Help:    "Queued job duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			executionStatusTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_execution_status_total",
					Help: "Execution status transitions by target status.",
				},
				[]string{"status"},
			),
			llmCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_llm_calls_total",
					Help: "Total LLM interactions by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_llm_retries_total",
					Help: "Total rate-limit retries by provider.",
				},
				[]string{"provider"},
			),
			llmTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_llm_tokens_total",
					Help: "Total tokens by provider and direction.",
				},
				[]string{"provider", "direction"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "otto_llm_call_duration_seconds",
					Help:    "LLM interaction duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			llmFirstChunkLag: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "otto_llm_time_to_first_chunk_seconds",
					Help:    "Seconds until the first streamed chunk by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "otto_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			permissionRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_permission_requests_total",
					Help: "Permission requests by status (Pending on creation, then the decision).",
				},
				[]string{"status"},
			),
			notificationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_notifications_total",
					Help: "Notifications by outcome.",
				},
				[]string{"outcome"},
			),
			webhookRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "otto_webhook_requests_total",
					Help: "Document webhook requests by document kind and HTTP status code.",
				},
				[]string{"kind", "code"},
			),
			webhookRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "otto_webhook_request_duration_seconds",
					Help:    "Document webhook request latency.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.executionStatusTotal,
			m.llmCallsTotal,
			m.llmRetriesTotal,
			m.llmTokensTotal,
			m.llmCallDuration,
			m.llmFirstChunkLag,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.permissionRequestsTotal,
			m.notificationsTotal,
			m.webhookRequestsTotal,
			m.webhookRequestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordExecutionStatus(status string) {
	getMetrics().executionStatusTotal.WithLabelValues(status).Inc()
}

func RecordLLMCall(provider string, duration, firstChunk time.Duration, inputTokens, outputTokens int, success bool) {
	m := getMetrics()
	m.llmCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		return
	}
	if firstChunk > 0 {
		m.llmFirstChunkLag.WithLabelValues(provider).Observe(firstChunk.Seconds())
	}
	m.llmTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.llmTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

func RecordLLMRetry(provider string) {
	getMetrics().llmRetriesTotal.WithLabelValues(provider).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordPermissionRequest(status string) {
	getMetrics().permissionRequestsTotal.WithLabelValues(status).Inc()
}

func RecordNotification(outcome string) {
	getMetrics().notificationsTotal.WithLabelValues(outcome).Inc()
}

func RecordWebhookRequest(kind string, code int, duration time.Duration) {
	m := getMetrics()
	m.webhookRequestsTotal.WithLabelValues(kind, strconv.Itoa(code)).Inc()
	m.webhookRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
