package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(aiTokensIn, aiTokensOut, aiCallsLatencyMs, aiBreakerState, validationRetriesTotal)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	aiBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
	)

	validationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_validation_retries_total",
			Help: "LLM output validation failures that triggered a re-ask, per stage.",
		},
		[]string{"stage"},
	)
)

func ObserveAICall(provider, model string, tokensIn, tokensOut, latencyMs int, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func SetBreakerState(state string) {
	switch norm(state) {
	case "open":
		aiBreakerState.Set(2)
	case "half_open":
		aiBreakerState.Set(1)
	default:
		aiBreakerState.Set(0)
	}
}

func IncValidationRetry(stage string) {
	validationRetriesTotal.WithLabelValues(norm(stage)).Inc()
}
