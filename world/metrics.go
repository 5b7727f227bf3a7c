package world

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestration counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LLMCalls           *prometheus.CounterVec
	ToolExecutions     *prometheus.CounterVec
	ApprovalsRequested *prometheus.CounterVec
	Resolutions        *prometheus.CounterVec
	TurnErrors         *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentworld",
			Name:      "llm_calls_total",
			Help:      "LLM calls by agent and outcome.",
		}, []string{"world", "agent", "outcome"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentworld",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"world", "tool", "outcome"}),
		ApprovalsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentworld",
			Name:      "approvals_requested_total",
			Help:      "Approval requests published, by tool.",
		}, []string{"world", "tool"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentworld",
			Name:      "tool_resolutions_total",
			Help:      "Tool resolutions by outcome (approved, denied, dropped, superseded).",
		}, []string{"world", "outcome"}),
		TurnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentworld",
			Name:      "turn_errors_total",
			Help:      "Turn-fatal errors by reason.",
		}, []string{"world", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.LLMCalls, m.ToolExecutions, m.ApprovalsRequested, m.Resolutions, m.TurnErrors)
	}
	return m
}

func (m *Metrics) llmCall(worldID, agentID, outcome string) {
	if m != nil {
		m.LLMCalls.WithLabelValues(worldID, agentID, outcome).Inc()
	}
}

func (m *Metrics) toolExecution(worldID, tool, outcome string) {
	if m != nil {
		m.ToolExecutions.WithLabelValues(worldID, tool, outcome).Inc()
	}
}

func (m *Metrics) approvalRequested(worldID, tool string) {
	if m != nil {
		m.ApprovalsRequested.WithLabelValues(worldID, tool).Inc()
	}
}

func (m *Metrics) resolution(worldID, outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(worldID, outcome).Inc()
	}
}

func (m *Metrics) turnError(worldID, reason string) {
	if m != nil {
		m.TurnErrors.WithLabelValues(worldID, reason).Inc()
	}
}
