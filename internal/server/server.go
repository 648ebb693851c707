// Package server exposes devloop's HTTP surface: the data-source webhook,
// the admin extract trigger, health, and Prometheus metrics. The handlers
// only translate requests into bus events; all sequencing decisions stay in
// the orchestrator.
package server

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/devloop/internal/config"
	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/observability"
)

// StateFunc reports the orchestrator's active state for health output.
type StateFunc func() string

// Server runs the webhook endpoint and, when enabled, a separate metrics
// endpoint.
type Server struct {
	cfg     config.Config
	bus     *events.Bus
	metrics *observability.Metrics
	stateFn StateFunc

	webhookSrv *http.Server
	metricsSrv *http.Server
}

func New(cfg config.Config, bus *events.Bus, metrics *observability.Metrics, stateFn StateFunc) (*Server, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if stateFn == nil {
		stateFn = func() string { return "unknown" }
	}
	return &Server{cfg: cfg, bus: bus, metrics: metrics, stateFn: stateFn}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully. Ports are
// pre-bound so a taken address fails fast instead of surfacing after
// partial startup.
func (s *Server) Run(ctx context.Context) error {
	type preBind struct {
		name string
		addr string
		ln   net.Listener
	}

	binds := []preBind{{name: "webhook", addr: s.cfg.Webhook.Addr}}
	if s.cfg.Metrics.Enabled {
		binds = append(binds, preBind{name: "metrics", addr: s.cfg.Metrics.Addr})
	}

	var bindErrs []error
	for i := range binds {
		ln, err := net.Listen("tcp", binds[i].addr)
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s %s: %w", binds[i].name, binds[i].addr, err))
			continue
		}
		binds[i].ln = ln
	}
	if len(bindErrs) > 0 {
		for _, b := range binds {
			if b.ln != nil {
				_ = b.ln.Close()
			}
		}
		return ferrors.WrapError(stdErrors.Join(bindErrs...), ferrors.CategoryServer, "failed to bind listen addresses").Build()
	}

	errCh := make(chan error, len(binds))

	s.webhookSrv = &http.Server{
		Handler:           s.webhookMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.webhookSrv.Serve(binds[0].ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- ferrors.WrapError(err, ferrors.CategoryServer, "webhook server failed").Build()
		}
	}()
	slog.Info("Webhook server listening",
		slog.String("addr", s.cfg.Webhook.Addr), slog.String("path", s.cfg.Webhook.Path))

	if s.cfg.Metrics.Enabled {
		s.metricsSrv = &http.Server{
			Handler:           s.metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.metricsSrv.Serve(binds[1].ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
				errCh <- ferrors.WrapError(err, ferrors.CategoryServer, "metrics server failed").Build()
			}
		}()
		slog.Info("Metrics server listening", slog.String("addr", s.cfg.Metrics.Addr))
	}

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		s.shutdown()
		return nil
	}
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.webhookSrv != nil {
		if err := s.webhookSrv.Shutdown(ctx); err != nil {
			slog.Warn("Webhook server shutdown", slog.Any("error", err))
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("Metrics server shutdown", slog.Any("error", err))
		}
	}
}

// requireMethod replicates Go 1.22+ ServeMux method patterns ("POST /path")
// on older toolchains: wrong-method requests get 405 with an Allow header.
func requireMethod(method string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) webhookMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Webhook.Path, requireMethod(http.MethodPost, http.HandlerFunc(s.handleWebhook)))
	mux.Handle("/extract", requireMethod(http.MethodPost, http.HandlerFunc(s.handleExtract)))
	mux.Handle("/healthz", requireMethod(http.MethodGet, http.HandlerFunc(s.handleHealth)))
	return mux
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", requireMethod(http.MethodGet, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	mux.Handle("/healthz", requireMethod(http.MethodGet, http.HandlerFunc(s.handleHealth)))
	return mux
}
