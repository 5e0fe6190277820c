package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the tero_* Prometheus series. It satisfies the engine
// Observer and the test suite Metrics interfaces.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	engine := agent.NewEngine(agent.Config{Observer: metrics, ...})
type Metrics struct {
	// TurnCounter counts answered turns.
	// Labels: status (success|error|stopped)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures a turn from the first model call to the last event.
	TurnDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts action invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	ToolExecutionDuration *prometheus.HistogramVec

	// OAuthFlowCounter counts OAuth callbacks and redirects.
	// Labels: outcome (redirect|success|invalid_state|cancelled|callback_error|error)
	OAuthFlowCounter *prometheus.CounterVec

	// TestCaseCounter counts finished test cases.
	// Labels: status (SUCCESS|FAILURE|ERROR|SKIPPED)
	TestCaseCounter *prometheus.CounterVec

	// HTTPRequestCounter counts API requests.
	// Labels: method, route, status_code
	HTTPRequestCounter *prometheus.CounterVec

	registerer prometheus.Registerer
	registry   prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. When reg is
// nil a private registry is used, which Handler then serves.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_turns_total",
				Help: "Total number of answered turns by status",
			},
			[]string{"status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tero_turn_duration_seconds",
				Help:    "Duration of answered turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tero_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tero_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		OAuthFlowCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_oauth_flows_total",
				Help: "Total number of OAuth flow steps by outcome",
			},
			[]string{"outcome"},
		),

		TestCaseCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_test_cases_total",
				Help: "Total number of executed test cases by status",
			},
			[]string{"status"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tero_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		registerer: reg,
		registry:   gatherer,
	}
}

// ObserveActiveAnswers exports the number of answers currently streaming as
// tero_active_answers, read from active at scrape time. Registering twice
// keeps the first source.
func (m *Metrics) ObserveActiveAnswers(active func() int) error {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tero_active_answers",
			Help: "Number of answers currently streaming",
		},
		func() float64 { return float64(active()) },
	)
	if err := m.registerer.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry the collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLLMRequest records metrics for a model call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one action call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordTestCase counts a finished test case.
func (m *Metrics) RecordTestCase(status string) {
	m.TestCaseCounter.WithLabelValues(status).Inc()
}

// RecordOAuthFlow counts an OAuth redirect or callback outcome.
func (m *Metrics) RecordOAuthFlow(outcome string) {
	m.OAuthFlowCounter.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts a served request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string) {
	m.HTTPRequestCounter.WithLabelValues(method, route, statusCode).Inc()
}
