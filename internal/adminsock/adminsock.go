// Package adminsock provides a Unix socket HTTP server for querying a
// running coordinator: pool utilization, active session count, and the
// full peer registry. The wireautoctl CLI is its client.
package adminsock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chunghany/wireauto/internal/registry"
)

// DefaultSocketPath is where the coordinator places its control socket
// absent an override.
const DefaultSocketPath = "/run/wireautod/control.sock"

// Status is the coordinator's overall status, served at GET /status.
type Status struct {
	ActiveSessions int `json:"active_sessions"`
	PoolTotal      int `json:"pool_total"`
	PoolUsed       int `json:"pool_used"`
}

// StatusProvider returns the current coordinator status.
type StatusProvider func() Status

// PeersProvider returns the current peer registry snapshot.
type PeersProvider func() map[string]registry.Attrs

// Server listens on a Unix domain socket and serves the coordinator's
// status and peer registry as JSON.
type Server struct {
	socketPath string
	status     StatusProvider
	peers      PeersProvider
	log        *slog.Logger
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a Server bound to socketPath, not yet listening.
func NewServer(socketPath string, status StatusProvider, peers PeersProvider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		status:     status,
		peers:      peers,
		log:        log.With("component", "adminsock"),
	}
}

// Start binds the Unix socket and begins serving in the background. It
// returns once the listener is bound.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("adminsock: creating socket directory %s: %w", dir, err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminsock: removing stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("adminsock: listening on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		s.log.Warn("setting socket permissions", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /peers", s.handlePeers)

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("adminsock server error", "error", err)
		}
	}()

	s.log.Info("adminsock listening", "socket", s.socketPath)
	return nil
}

// Stop shuts down the HTTP server and removes the socket file.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("adminsock shutdown", "error", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing socket file", "error", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.log.Error("encoding status response", "error", err)
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.peers()); err != nil {
		s.log.Error("encoding peers response", "error", err)
	}
}

// FetchStatus connects to a running coordinator's admin socket and returns
// its status.
func FetchStatus(socketPath string) (*Status, error) {
	client := unixClient(socketPath)
	resp, err := client.Get("http://wireautod/status")
	if err != nil {
		return nil, fmt.Errorf("adminsock: connecting to %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adminsock: unexpected status code %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("adminsock: decoding status response: %w", err)
	}
	return &status, nil
}

// FetchPeers connects to a running coordinator's admin socket and returns
// the peer registry snapshot.
func FetchPeers(socketPath string) (map[string]registry.Attrs, error) {
	client := unixClient(socketPath)
	resp, err := client.Get("http://wireautod/peers")
	if err != nil {
		return nil, fmt.Errorf("adminsock: connecting to %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adminsock: unexpected status code %d", resp.StatusCode)
	}

	peers := make(map[string]registry.Attrs)
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return nil, fmt.Errorf("adminsock: decoding peers response: %w", err)
	}
	return peers, nil
}

func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}
}
