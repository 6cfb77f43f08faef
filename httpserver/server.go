package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/artifact-repository/common"
	"github.com/ruteri/artifact-repository/metrics"
	"go.uber.org/atomic"
)

// HTTPServerConfig configures the gateway process.
type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr disables the metrics listener when empty.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown keeps serving after /readyz starts
	// failing, unless /drain already started the drain.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server runs the gateway Handler next to health endpoints and a metrics
// listener.
type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) (*Server, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	handler.WithRecorder(metricsSrv)

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	srv := &Server{
		cfg:        cfg,
		log:        log,
		metricsSrv: metricsSrv,
		handler:    handler,
	}
	srv.isReady.Store(true)
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

// Handler returns the router, for tests and embedding.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		srv.handler.RegisterRoutes(r)

		r.Get("/livez", srv.handleLivenessCheck)
		r.Get("/readyz", srv.handleReadinessCheck)
		r.Get("/drain", srv.handleDrain)
		r.Get("/undrain", srv.handleUndrain)
	})

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

// handleReadinessCheck fails while draining and while the storage root
// cannot be stat'ed.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if _, err := srv.handler.fs.Stat("/"); err != nil {
		srv.log.Warn("Storage root unavailable", "err", err)
		writeStatus(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info("Server marked as not ready")
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info("Server marked as ready")
	writeStatus(w, http.StatusOK, "ready")
}

func (srv *Server) serve(name, addr string, listen func() error) {
	go func() {
		srv.log.Info("Starting "+name, "listenAddress", addr)
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error(name+" failed", "err", err)
		}
	}()
}

// RunInBackground starts the gateway and, when configured, the metrics
// listener.
func (srv *Server) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		srv.serve("metrics server", srv.cfg.MetricsAddr, srv.metricsSrv.ListenAndServe)
	}
	srv.serve("HTTP server", srv.cfg.ListenAddr, srv.srv.ListenAndServe)
}

// Shutdown drains the gateway, waits for in-flight transfers and stops
// both listeners.
func (srv *Server) Shutdown() {
	if srv.isReady.Swap(false) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	if srv.cfg.MetricsAddr == "" {
		return
	}
	if err := srv.metricsSrv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful metrics server shutdown failed", "err", err)
	} else {
		srv.log.Info("Metrics server gracefully stopped")
	}
}
