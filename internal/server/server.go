package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/config"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/controller"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
)

// maxBodyBytes caps request bodies; match requests carry record batches.
const maxBodyBytes = 8 << 20

// QueryServer exposes the query front end over HTTP.
type QueryServer struct {
	engine *engine.Engine
	tokens *controller.Store // nil disables authentication
	cfg    config.Server
	logger *zap.Logger

	srv    *http.Server
	parser fastjson.ParserPool

	requests int64
}

// New creates a QueryServer. Passing a nil token store leaves every route
// public.
func New(e *engine.Engine, tokens *controller.Store, cfg config.Server, logger *zap.Logger) *QueryServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QueryServer{
		engine: e,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the route table.
func (s *QueryServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/system/status", s.handleSystemStatus)

	mux.Handle("/api/tokenize", s.api(s.handleTokenize))
	mux.Handle("/api/parse", s.api(s.handleParse))
	mux.Handle("/api/analyze", s.api(s.handleAnalyze))
	mux.Handle("/api/highlight", s.api(s.handleHighlight))
	mux.Handle("/api/match", s.api(s.handleMatch))
	mux.Handle("/api/history", s.api(s.handleHistory))
	mux.Handle("/api/histogram", s.api(s.handleHistogram))
	mux.Handle("/api/stats", s.api(s.handleStats))

	// Not compressed: the upgrade needs the raw connection
	mux.Handle("/api/live", s.AuthMiddleware(http.HandlerFunc(s.handleLive)))

	return s.logRequests(mux)
}

func (s *QueryServer) api(h http.HandlerFunc) http.Handler {
	return gzhttp.GzipHandler(s.AuthMiddleware(h))
}

// Start runs the HTTP server until Shutdown.
func (s *QueryServer) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr), zap.Bool("auth", s.tokens != nil))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *QueryServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Requests returns the number of requests served.
func (s *QueryServer) Requests() int64 {
	return atomic.LoadInt64(&s.requests)
}

// AuthMiddleware checks for a valid token in the Authorization header or
// the token query parameter.
func (s *QueryServer) AuthMiddleware(next http.Handler) http.Handler {
	if s.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="querylight"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		if _, ok := s.tokens.Authenticate(token); !ok {
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *QueryServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requests, 1)
		start := time.Now()

		// websocket upgrades need the unwrapped writer
		if r.URL.Path == "/api/live" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)
	})
}

func (s *QueryServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("JSON encode error", zap.Error(err))
	}
}

func (s *QueryServer) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"auth":   s.tokens != nil,
	})
}
