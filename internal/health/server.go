package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scenetrack/tracker/internal/monitoring"
)

const (
	// EndpointLiveness answers whether the process is up at all.
	EndpointLiveness = "/healthz"
	// EndpointReadiness answers whether the process can do useful work.
	EndpointReadiness = "/readyz"

	readHeaderTimeout = 5 * time.Second
)

// Server serves the health endpoints and Prometheus metrics on a dedicated
// port, separate from all broker traffic.
type Server struct {
	state    *State
	server   *http.Server
	listener net.Listener
}

// NewServer builds the health server for the given port. Call Start to
// begin serving.
func NewServer(state *State, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		state: state,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
	mux.HandleFunc(EndpointLiveness, s.handleLiveness)
	mux.HandleFunc(EndpointReadiness, s.handleReadiness)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Start binds the port and serves in the background. A bind failure is
// returned synchronously; it is fatal at startup.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			monitoring.NewEntry().
				Component("health").
				Operation("serve").
				Err(err).
				Error("health server stopped unexpectedly")
		}
	}()

	monitoring.NewEntry().
		Component("health").
		Operation("start").
		Str("addr", s.server.Addr).
		Info("health server listening")
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, s.state.Live(), `{"status":"healthy"}`, `{"status":"unhealthy"}`)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, s.state.Ready(), `{"status":"ready"}`, `{"status":"notready"}`)
}

func writeStatus(w http.ResponseWriter, ok bool, okBody, failBody string) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, okBody)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, failBody)
}
