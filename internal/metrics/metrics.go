package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics Prometheus metrics for the Chick-Up core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actionsDispatched *prometheus.CounterVec
	signalingSessions *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	alertsRaised      *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.actionsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chickup_actions_dispatched_total",
			Help: "Actuation commands by type and result",
		},
		[]string{"type", "result"},
	)
	m.signalingSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chickup_signaling_sessions_total",
			Help: "Signaling sessions by terminal or intermediate state",
		},
		[]string{"state"},
	)
	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chickup_signaling_active_sessions",
		Help: "Signaling sessions currently running",
	})
	m.alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chickup_alerts_raised_total",
			Help: "Low level alerts raised by kind",
		},
		[]string{"kind"},
	)
	m.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chickup_store_errors_total",
			Help: "Store failures surfaced to components",
		},
		[]string{"component"},
	)

	m.registry.MustRegister(
		m.actionsDispatched,
		m.signalingSessions,
		m.activeSessions,
		m.alertsRaised,
		m.storeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ActionDispatched result is ok, cooldown, invalid or error
func (m *Metrics) ActionDispatched(actuator, result string) {
	if m == nil {
		return
	}
	m.actionsDispatched.WithLabelValues(actuator, result).Inc()
}

// SessionState counts a signaling state change
func (m *Metrics) SessionState(state string) {
	if m == nil {
		return
	}
	m.signalingSessions.WithLabelValues(state).Inc()
}

// SessionStarted / SessionEnded track live sessions
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// AlertRaised counts alert transitions
func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(kind).Inc()
}

// StoreError counts a failure seen by component
func (m *Metrics) StoreError(component string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(component).Inc()
}

// Handler /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the metrics listener on addr (e.g. ":9090")
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks until the listener stops; a clean shutdown returns nil
func (s *Server) Start() error {
	s.logger.Info("Metrics server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
