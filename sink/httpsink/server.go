package httpsink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/sink"
)

type DataSource interface {
	GetData() co2mon.Reading
}

// Server answers queries for the latest reading. It never waits on the device.
type Server struct {
	src    DataSource
	format sink.Format
	maxAge time.Duration
	router *mux.Router
}

// New builds the router. maxAge bounds how old the last reading may be for /healthz to pass; 0 disables the check.
func New(src DataSource, gatherer prometheus.Gatherer, maxAge time.Duration) *Server {
	s := &Server{
		src:    src,
		format: sink.QueryFormat,
		maxAge: maxAge,
		router: mux.NewRouter(),
	}
	s.router.HandleFunc("/", s.getReading).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		gatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	)).Methods(http.MethodGet)
	return s
}

// Router lets other sinks mount their own endpoints on the same listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler wraps the router with an access log written to accessLog.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	return handlers.CombinedLoggingHandler(accessLog, s.router)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	accessLog := log.StandardLogger().WriterLevel(log.DebugLevel)
	defer accessLog.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(accessLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	return nil
}

func (s *Server) getReading(w http.ResponseWriter, r *http.Request) {
	payload := s.format.Payload(s.src.GetData())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warnf("failed to write reading: %s", err)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	reading := s.src.GetData()
	switch {
	case !reading.Valid():
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NO_DATA"))
	case s.maxAge > 0 && time.Since(reading.Timestamp) > s.maxAge:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("STALE"))
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
