package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "runs_total",
			Help:      "Total copilot runs by workspace and outcome",
		},
		[]string{"workspace", "outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of copilot runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"workspace"},
	)

	runIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "run_iterations",
			Help:      "Model round trips consumed per run",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"provider", "model", "status"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"provider", "model"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"provider", "model", "direction"},
	)

	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool and status",
		},
		[]string{"tool", "status"}, // "ok", "error", "degraded", "timeout"
	)

	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	conversationBusyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "conversation_busy_total",
			Help:      "Requests rejected because the conversation was locked by another run",
		},
	)
)
