package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_sessions",
		Help: "Number of open WebSocket sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_total",
		Help: "Total number of WebSocket sessions accepted",
	})

	// Pipeline run metrics
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_runs_total",
		Help: "Pipeline runs by outcome",
	}, []string{"outcome"}) // outcome: "done" or "failed"

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_run_duration_seconds",
		Help:    "Duration of a pipeline run from audio received to done or error",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	})

	timeToFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_time_to_first_token_seconds",
		Help:    "Time from audio received to the first agent token",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10},
	})

	timeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_time_to_first_audio_seconds",
		Help:    "Time from audio received to the first synthesized chunk",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10, 20},
	})

	// Collaborator metrics
	collaboratorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_collaborator_requests_total",
		Help: "Requests to the recognizer, agent and synthesizer by outcome",
	}, []string{"component", "status"})

	collaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_agent_collaborator_latency_seconds",
		Help:    "Collaborator call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"component"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"service", "to"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	ttsChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_tts_chunks_total",
		Help: "Synthesized audio chunks forwarded to callers",
	})
)

// Collaborator component labels
const (
	ComponentSTT   = "stt"
	ComponentAgent = "agent"
	ComponentTTS   = "tts"
)

// SessionOpened records an accepted WebSocket session
func SessionOpened() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// SessionClosed records a closed WebSocket session
func SessionClosed() {
	activeSessions.Dec()
}

// RunMetrics tracks metrics for a single pipeline run
type RunMetrics struct {
	startTime   time.Time
	firstToken  bool
	firstAudio  bool
	stageStarts map[string]time.Time
	mu          sync.Mutex
}

// NewRunMetrics starts the clock for one pipeline run
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		startTime:   time.Now(),
		stageStarts: make(map[string]time.Time),
	}
}

// RecordStageStart marks the start of a collaborator call
func (m *RunMetrics) RecordStageStart(component string) {
	m.mu.Lock()
	m.stageStarts[component] = time.Now()
	m.mu.Unlock()
}

// RecordStageEnd observes latency since the matching RecordStageStart
func (m *RunMetrics) RecordStageEnd(component string, success bool) {
	m.mu.Lock()
	start, ok := m.stageStarts[component]
	delete(m.stageStarts, component)
	m.mu.Unlock()

	if ok {
		collaboratorLatency.WithLabelValues(component).Observe(time.Since(start).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	collaboratorRequests.WithLabelValues(component, status).Inc()
}

// RecordFirstToken observes time to first token once per run
func (m *RunMetrics) RecordFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstToken {
		return
	}
	m.firstToken = true
	timeToFirstToken.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioChunk counts an outbound chunk and observes time to first audio once per run
func (m *RunMetrics) RecordAudioChunk(size int) {
	ttsChunks.Inc()
	audioBytes.WithLabelValues("out").Add(float64(size))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstAudio {
		return
	}
	m.firstAudio = true
	timeToFirstAudio.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioIn counts decoded inbound audio bytes
func (m *RunMetrics) RecordAudioIn(size int) {
	audioBytes.WithLabelValues("in").Add(float64(size))
}

// RecordRunEnd records the run outcome and duration
func (m *RunMetrics) RecordRunEnd(success bool) {
	outcome := "done"
	if !success {
		outcome = "failed"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int, name string) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
	circuitBreakerTransitions.WithLabelValues(service, name).Inc()
}
