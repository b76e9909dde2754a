// Package server exposes the fleet and transfer operations over HTTP and
// serves the dashboard's static assets.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Ast111/gpu-monitor/internal/fleet"
	"github.com/Ast111/gpu-monitor/internal/logger"
	"github.com/Ast111/gpu-monitor/internal/transfer"
)

// FleetFetcher is the slice of the fleet API the HTTP layer consumes.
type FleetFetcher interface {
	FetchStatuses(ctx context.Context, hosts []string) []fleet.HostStatus
	FetchGPUProcesses(ctx context.Context, host string, index int) fleet.ProcessResult
}

// FileTransferer is the slice of the transfer engine the HTTP layer consumes.
type FileTransferer interface {
	Download(ctx context.Context, host, remotePath string) (*transfer.Download, error)
	Upload(host, remotePath string, source io.Reader, length int64) transfer.Outcome
}

// HostSource lists the configured fleet hosts.
type HostSource interface {
	Hosts() ([]string, error)
}

// Server wires the HTTP routes to the fleet and transfer layers.
type Server struct {
	fleet      FleetFetcher
	files      FileTransferer
	hosts      HostSource
	configPath string
	webDir     string
	log        logger.Logger
}

// New creates a Server. webDir may be empty, which disables static serving.
func New(fleetFetcher FleetFetcher, files FileTransferer, hosts HostSource, configPath, webDir string, log logger.Logger) *Server {
	if log == nil {
		log = logger.Noop()
	}
	return &Server{
		fleet:      fleetFetcher,
		files:      files,
		hosts:      hosts,
		configPath: configPath,
		webDir:     webDir,
		log:        log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/servers", s.handleServers)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/status", s.handleStatusBatch)
	mux.HandleFunc("GET /api/gpu-processes", s.handleGPUProcesses)
	mux.HandleFunc("GET /api/download", s.handleDownload)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("/", s.handleStatic)
	return mux
}

// ListenAndServe starts the HTTP server on addr and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	return srv.ListenAndServe()
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode JSON response: %v", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// opError is the {"ok":false,"error":...} shape the transfer and process
// endpoints use for failures.
func (s *Server) opError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(transfer.Outcome{OK: false, Error: message})
}
