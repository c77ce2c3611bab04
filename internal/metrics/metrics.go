package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring
var (
	// Conversation metrics
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skylens_ai_conversations_total",
			Help: "Total number of conversations started",
		},
		[]string{"status"}, // status: completed/suspended/fallback/error/discarded
	)

	ConversationIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skylens_ai_conversation_iterations",
			Help:    "Completion-service round trips per conversation",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		},
	)

	PendingConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skylens_ai_pending_conversations",
			Help: "Current number of suspended conversations awaiting bridge replies",
		},
	)

	SuspendedEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skylens_ai_suspended_evicted_total",
			Help: "Suspended conversations evicted by the expiry janitor",
		},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skylens_ai_llm_requests_total",
			Help: "Total number of completion-service requests",
		},
		[]string{"status"},
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skylens_ai_llm_request_duration_seconds",
			Help:    "Completion-service request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skylens_ai_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"type"}, // type: input/output
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skylens_ai_tool_calls_total",
			Help: "Total number of local tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skylens_ai_tool_duration_seconds",
			Help:    "Local tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"tool"},
	)

	// Bridge metrics
	BridgeCallsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skylens_ai_bridge_calls_dispatched_total",
			Help: "Bridged tool calls handed to the remote actor",
		},
	)

	BridgeCallsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skylens_ai_bridge_calls_resolved_total",
			Help: "Bridged tool call resolutions received",
		},
		[]string{"status"}, // status: resolved/duplicate/unknown
	)

	// Session store metrics
	SessionsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skylens_ai_sessions_stored",
			Help: "Current number of ingested telemetry sessions",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skylens_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)
)
