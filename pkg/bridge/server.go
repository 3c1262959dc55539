package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irislive/iris/pkg/live"
)

// Config tunes the bridge's transport limits.
type Config struct {
	// Addr is the listen address, e.g. ":8642". The caller owns the
	// http.Server; Addr is carried here so wiring stays in one place.
	Addr string

	// MaxAudioFrameBytes bounds a decoded client audio frame.
	// Default: 32768.
	MaxAudioFrameBytes int

	// MaxJSONMessageBytes bounds any inbound frame. Video frames are
	// base64 JPEG, so the default is generous: 1 MiB.
	MaxJSONMessageBytes int64

	// HandshakeTimeout bounds the wait for the hello frame. Default: 5s.
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive ping cadence. Default: 20s.
	PingInterval time.Duration

	// WriteTimeout bounds each outbound write. Default: 5s.
	WriteTimeout time.Duration

	// ReadTimeout is the idle read deadline, refreshed by pongs and
	// inbound frames. Default: 60s.
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAudioFrameBytes <= 0 {
		c.MaxAudioFrameBytes = 32 * 1024
	}
	if c.MaxJSONMessageBytes <= 0 {
		c.MaxJSONMessageBytes = 1 << 20
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	return c
}

// SessionFactory builds the live session backing one connection. The
// controller is the connection's app-state surface; commands the model
// issues flow back to the client as app_command frames.
type SessionFactory func(ctrl live.AppController) (*live.Session, error)

// Server is the WebSocket bridge: /v1/live sessions plus health and
// metrics endpoints.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	mux        *http.ServeMux
	registry   *prometheus.Registry
	metrics    *Metrics
	newSession SessionFactory
}

// New builds a bridge server around the session factory.
func New(cfg Config, newSession SessionFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	s := &Server{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		mux:        http.NewServeMux(),
		registry:   registry,
		metrics:    NewMetrics(registry),
		newSession: newSession,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", HealthHandler{})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.Handle("/v1/live", LiveHandler{
		Config:     s.cfg,
		Logger:     s.logger,
		Metrics:    s.metrics,
		NewSession: s.newSession,
	})
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = Recover(s.logger, h)
	h = AccessLog(s.logger, h)
	h = RequestID(h)
	return h
}

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
