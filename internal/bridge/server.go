// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aplane-algo/apbridge/internal/util"
)

// maxRequestBytes bounds one page request on every channel.
const maxRequestBytes = 1 << 20

const wsWriteTimeout = 10 * time.Second

// ServerConfig configures the page channel HTTP server
type ServerConfig struct {
	// AllowedOrigins restricts the browser Origin header. Empty allows any origin;
	// requests are still authenticated by signature.
	AllowedOrigins []string
	// LoopbackOnly rejects peers and Host headers that are not loopback.
	LoopbackOnly bool
	// ExposeMetrics serves /metrics when a Metrics is attached.
	ExposeMetrics bool
}

// Server exposes the dispatcher over HTTP POST and WebSocket
type Server struct {
	dispatcher   *Dispatcher
	metrics      *Metrics
	cfg          ServerConfig
	allowed      map[string]bool
	upgrader     websocket.Upgrader
	router       *mux.Router
	closeTimeout time.Duration

	mu     sync.Mutex
	conns  map[*pageConn]struct{}
	closed bool
}

// NewServer creates the page channel server.
func NewServer(cfg ServerConfig, d *Dispatcher, m *Metrics) *Server {
	s := &Server{
		dispatcher:   d,
		metrics:      m,
		cfg:          cfg,
		conns:        make(map[*pageConn]struct{}),
		closeTimeout: time.Second,
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.allowed = make(map[string]bool, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			if n := normalizeOrigin(o); n != "" {
				s.allowed[n] = true
			}
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/bridge", s.withGuards(s.handlePost)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/bridge/ws", s.withGuards(s.handleWebSocket)).Methods(http.MethodGet)
	if cfg.ExposeMetrics && m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CloseConnections closes every page WebSocket. Their in-flight requests are
// cancelled, which abandons any confirmation they wait on.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*pageConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()

	for _, pc := range conns {
		pc.close(s.closeTimeout)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "apbridge",
	})
}

// handlePost serves one request per HTTP POST. A client that disconnects
// cancels the request context and abandons its confirmation.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("", fmt.Errorf("%w: %v", ErrMalformedRequest, err)))
		return
	}

	resp := s.dispatcher.Handle(WithRemoteAddr(r.Context(), r.RemoteAddr), body)
	status := http.StatusOK
	if resp.Error != nil {
		switch resp.Error.Code {
		case CodeAuthenticationFailed:
			status = http.StatusUnauthorized
		case CodeRateLimited:
			status = http.StatusTooManyRequests
		}
	}
	writeJSON(w, status, resp)
}

// pageConn serialises writes on one WebSocket
type pageConn struct {
	conn   *websocket.Conn
	writeM sync.Mutex
	cancel context.CancelFunc
}

func (pc *pageConn) writeJSON(v any) error {
	pc.writeM.Lock()
	defer pc.writeM.Unlock()
	_ = pc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return pc.conn.WriteJSON(v)
}

func (pc *pageConn) close(timeout time.Duration) {
	pc.writeM.Lock()
	_ = pc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
		time.Now().Add(timeout))
	pc.writeM.Unlock()
	pc.cancel()
	_ = pc.conn.Close()
}

// handleWebSocket serves a page channel. Each message is handled on its own
// goroutine; responses carry the request id for correlation.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	ctx, cancel := context.WithCancel(WithRemoteAddr(context.Background(), r.RemoteAddr))
	pc := &pageConn{conn: conn, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	s.conns[pc] = struct{}{}
	s.mu.Unlock()

	s.metrics.PageConnOpened()
	util.Debug("page connected", "remote", r.RemoteAddr)

	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, pc)
		s.mu.Unlock()
		s.metrics.PageConnClosed()
		util.Debug("page disconnected", "remote", r.RemoteAddr)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.Debug("page read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		inflight.Add(1)
		go func(raw []byte) {
			defer inflight.Done()
			resp := s.dispatcher.Handle(ctx, raw)
			if err := pc.writeJSON(resp); err != nil {
				util.Debug("page write failed", "remote", r.RemoteAddr, "error", err)
			}
		}(data)
	}
}

// withGuards applies the loopback and CORS policy to page routes.
func (s *Server) withGuards(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.LoopbackOnly && (!isLoopbackRequest(r) || !isSafeLocalHost(r.Host)) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" {
			if !s.originAllowed(origin) {
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", normalizeOrigin(origin))
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		next(w, r)
	}
}

// originAllowed checks a browser Origin header against the allowlist.
// Requests without an Origin header (non-browser clients) are allowed.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	n := normalizeOrigin(origin)
	if n == "" {
		return false
	}
	if s.allowed == nil {
		return true
	}
	return s.allowed[n]
}

// loggingMiddleware logs each HTTP request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		next.ServeHTTP(w, r)
		util.Debug("http request", "method", r.Method, "path", path, "remote", r.RemoteAddr, "elapsed", time.Since(start))
	})
}

func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isSafeLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

func normalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

// ListenAndServe runs an http.Server for s until ctx is cancelled, then shuts it down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, // Prevent SlowLoris attacks
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.CloseConnections()
	return httpServer.Shutdown(shutdownCtx)
}
