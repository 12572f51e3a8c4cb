package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the worker debug endpoint: Prometheus metrics, a liveness probe,
// and the websocket task-event stream.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// NewServer builds the debug server. hub may be nil; /events then returns 404.
func NewServer(addr string, hub *EventHub, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if hub != nil {
		mux.HandleFunc("/events", hub.Handler())
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves until Shutdown. Run in its own goroutine; a listen failure is
// logged and the process keeps working without the debug endpoint.
func (s *Server) Start() {
	s.log.WithField("addr", s.srv.Addr).Info("debug server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.WithError(err).Error("debug server failed")
	}
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
