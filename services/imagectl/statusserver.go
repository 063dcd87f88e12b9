package imagectl

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/RnD-sandbox/image-sharing/pkg/metrics"
)

// StatusRouter serves health, readiness, metrics and the live run report.
func StatusRouter(state *RunState, rec *metrics.Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !state.Ready() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if rec != nil {
		r.Method(http.MethodGet, "/metrics", rec.Handler())
	}

	r.Get("/v1/report", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state.Snapshot())
	})

	return r
}

// StatusServer runs StatusRouter on a listener for the lifetime of a run.
type StatusServer struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
	done   chan struct{}
}

// StartStatusServer listens on addr and serves in the background.
func StartStatusServer(addr string, handler http.Handler, logger zerolog.Logger) (*StatusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &StatusServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status server")
		}
	}()
	return s, nil
}

// Addr is the bound address.
func (s *StatusServer) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
