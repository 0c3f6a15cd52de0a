package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce                  sync.Once
	apiRequestsTotal              *prometheus.CounterVec
	apiLatencySeconds             *prometheus.HistogramVec
	apiErrorsTotal                *prometheus.CounterVec
	chatConnectionsActive         prometheus.Gauge
	chatMessagesSentTotal         prometheus.Counter
	chatMessagesDeletedTotal      prometheus.Counter
	notificationsPublishedTotal   prometheus.Counter
	notificationSubscribersActive prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realtime_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of currently open chat websocket connections.",
		})

		chatMessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of chat messages stored and broadcast.",
		})

		chatMessagesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Total number of chat messages tombstoned.",
		})

		notificationsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Total number of notifications persisted and fanned out.",
		})

		notificationSubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_subscribers_active",
			Help: "Number of live notification push subscriptions.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			chatConnectionsActive,
			chatMessagesSentTotal,
			chatMessagesDeletedTotal,
			notificationsPublishedTotal,
			notificationSubscribersActive,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ChatConnectionsActive exposes the gauge of open websocket connections.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the counter for stored chat messages.
func ChatMessagesSent() prometheus.Counter {
	RegisterMetrics()
	return chatMessagesSentTotal
}

// ChatMessagesDeleted exposes the counter for tombstoned chat messages.
func ChatMessagesDeleted() prometheus.Counter {
	RegisterMetrics()
	return chatMessagesDeletedTotal
}

// NotificationsPublished exposes the counter for published notifications.
func NotificationsPublished() prometheus.Counter {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// NotificationSubscribersActive exposes the gauge of live push subscriptions.
func NotificationSubscribersActive() prometheus.Gauge {
	RegisterMetrics()
	return notificationSubscribersActive
}
