package conversation

import "github.com/prometheus/client_golang/prometheus"

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "collabsim",
		Subsystem: "conversation",
		Name:      "llm_latency_seconds",
		Help:      "Latency of LLM completions",
		// Focus on sub-10s buckets with a few higher ones for visibility.
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30, 60},
	},
	[]string{"model", "status"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collabsim",
		Subsystem: "conversation",
		Name:      "llm_tokens_total",
		Help:      "Tokens used by the LLM",
	},
	[]string{"model", "type"}, // type: input, output, total
)

var payloadRejectsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collabsim",
		Subsystem: "conversation",
		Name:      "payload_rejects_total",
		Help:      "Structured payloads rejected for missing required keys",
	},
	[]string{"mode"},
)

var conversationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collabsim",
		Subsystem: "conversation",
		Name:      "conversations_total",
		Help:      "Generated conversations by terminal status",
	},
	[]string{"mode", "status"}, // status: terminated, budget_exhausted, failed
)

var evaluationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collabsim",
		Subsystem: "conversation",
		Name:      "evaluations_total",
		Help:      "Conversation evaluations by outcome",
	},
	[]string{"outcome"}, // outcome: correct, incorrect, error
)

func init() {
	prometheus.MustRegister(llmLatency)
	prometheus.MustRegister(llmTokensTotal)
	prometheus.MustRegister(payloadRejectsTotal)
	prometheus.MustRegister(conversationsTotal)
	prometheus.MustRegister(evaluationsTotal)
}

// RegisterMetrics registers conversation metrics with a custom registry.
// Use this when exposing a non-default registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmTokensTotal, payloadRejectsTotal, conversationsTotal, evaluationsTotal)
}
