package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	SocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socket_connections",
		Help: "Number of open WebSocket connections.",
	})

	CallsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_sessions_started_total",
		Help: "Participant call sessions that joined their channel.",
	}, []string{"call_type"})

	CallsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_sessions_failed_total",
		Help: "Participant call sessions that failed to start.",
	}, []string{"reason"})

	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "call_sessions_active",
		Help: "Participant call sessions currently joined.",
	})

	BilledAmount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_billed_amount_total",
		Help: "Sum of final call costs.",
	}, []string{"currency"})

	ExtensionsRequired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "call_extensions_required_total",
		Help: "Calls whose free allotment was exhausted.",
	})

	IncomingCallsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incoming_calls_queued",
		Help: "Incoming call requests waiting behind an open dialog.",
	})

	IncomingCallsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incoming_calls_expired_total",
		Help: "Incoming call requests marked expired by the monitor.",
	})

	ChatMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Data channel chat messages.",
	}, []string{"direction"}) // IN/OUT

	ChatSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_send_failures_total",
		Help: "Data channel chat sends rejected by the transport.",
	})

	SubscriptionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_subscription_errors_total",
		Help: "Realtime subscriptions that reported an error.",
	}, []string{"collection"})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequests, HTTPDuration, SocketConnections,
		CallsStarted, CallsFailed, ActiveCalls, BilledAmount, ExtensionsRequired,
		IncomingCallsQueued, IncomingCallsExpired,
		ChatMessages, ChatSendFailures, SubscriptionErrors,
	)
}
