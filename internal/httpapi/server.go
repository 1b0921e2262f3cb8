// Package httpapi serves the bridge's HTTP surface: the 9 REST endpoints and
// the operation event feed of §4.4/§4.4a/§6, wired with the auth middleware,
// permissive CORS, and per-request logging spans.
package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/msigbridge/internal/auth"
	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/pkg/logging"
)

const postOperationBodyLimit = 100 * 1024 * 1024 // §6: 100 MiB on /postoperation only.

// VersionInfo is the compiled rgb_lib compatibility range reported by /info.
type VersionInfo struct {
	Min     string
	Max     string
	Current string
}

// Server hosts the HTTP API over a Coordinator.
type Server struct {
	coord    *coordinator.Coordinator
	resolver *auth.Resolver
	versions VersionInfo
	log      *logging.Logger
	hub      *wsHub

	server   *http.Server
	listener net.Listener
}

// Config bundles what New needs.
type Config struct {
	Coordinator *coordinator.Coordinator
	Resolver    *auth.Resolver
	Versions    VersionInfo
	Log         *logging.Logger
}

// New builds a Server and wires the coordinator's event feed into the
// WebSocket hub.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	log = log.Component("httpapi")

	hub := newWSHub(log)
	cfg.Coordinator.OnEvent(hub.onCoordinatorEvent)

	return &Server{
		coord:    cfg.Coordinator,
		resolver: cfg.Resolver,
		versions: cfg.Versions,
		log:      log,
		hub:      hub,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /getcurrentaddressindices", s.handleGetCurrentAddressIndices)
	mux.HandleFunc("POST /bumpaddressindices", s.handleBumpAddressIndices)
	mux.HandleFunc("POST /postoperation", s.handlePostOperation)
	mux.HandleFunc("POST /respondtooperation", s.handleRespondToOperation)
	mux.HandleFunc("POST /markoperationprocessed", s.handleMarkOperationProcessed)
	mux.HandleFunc("GET /getlastprocessedopidx", s.handleGetLastProcessedOpIdx)
	mux.HandleFunc("POST /getoperationbyidx", s.handleGetOperationByIdx)
	mux.HandleFunc("POST /getfile", s.handleGetFile)
	mux.HandleFunc("GET /ws/operations", s.handleWSOperations)

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = requestLogMiddleware(s.log, handler)
	handler = corsMiddleware(handler)
	return handler
}

// Start begins serving on addr ("host:port") in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go s.hub.run()

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /postoperation may stream up to 100 MiB of upload.
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("http api started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, letting in-flight handlers finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// corsMiddleware grants permissive CORS per §6.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware gives every request a generated id and logs method,
// URI and response status on completion.
func requestLogMiddleware(log *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		started := time.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"status", sw.status,
			"duration_ms", time.Since(started).Milliseconds())
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the underlying ResponseWriter so gorilla/websocket's
// upgrader (which type-asserts http.Hijacker) still works through this
// middleware's wrapping.
func (w *statusCapturingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// Flush forwards to the underlying ResponseWriter when it supports streaming.
func (w *statusCapturingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return s.resolver.Middleware(writeAPIError, next)
}
