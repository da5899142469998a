package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/address"
	"github.com/JakeFAU/anttp-gateway/internal/metrics"
)

const livenessText = "anttp server is live"

// Backend is the subset of backend.Client used by the pass-through.
type Backend interface {
	Open(ctx context.Context, address string) (*http.Response, error)
	URL(address string) string
}

// Config controls optional HTTP behavior.
type Config struct {
	Cinema CinemaConfig
}

// Server wires HTTP handlers to the backend and the channel handler.
type Server struct {
	router  chi.Router
	backend Backend
	channel http.Handler
	cinema  *cinemaPage
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. channel serves
// every request that asks for a WebSocket upgrade, whatever its path.
func NewServer(backend Backend, channel http.Handler, cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		channel: channel,
		logger:  logger,
	}
	if cfg.Cinema.Enabled {
		page, err := newCinemaPage(cfg.Cinema)
		if err != nil {
			return nil, err
		}
		s.cinema = page
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if channel != nil {
		r.Use(upgradeMiddleware(channel))
	}

	r.HandleFunc("/", s.liveness)
	r.NotFound(s.passThrough)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, livenessText)
}

// passThrough validates the escaped request path as an address and streams the
// backend response back verbatim.
func (s *Server) passThrough(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.EscapedPath(), "/")
	if !address.Valid(addr) {
		writeText(w, http.StatusBadRequest, "Invalid XOR name")
		return
	}

	resp, err := s.backend.Open(r.Context(), addr)
	if err != nil {
		s.logger.Warn("backend request failed", zap.String("address", addr), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, "Error fetching XOR content: "+reasonPhrase(resp))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if s.cinema != nil && strings.HasPrefix(contentType, "video/") {
		if err := s.cinema.render(w, s.backend.URL(addr), contentType); err != nil {
			s.logger.Warn("cinema page render failed", zap.String("address", addr), zap.Error(err))
		}
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(flushWriter{w}, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("pass-through copy interrupted", zap.String("address", addr), zap.Error(err))
	}
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		dst[k] = append([]string(nil), values...)
	}
	for _, v := range src.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				dst.Del(token)
			}
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

// reasonPhrase returns the status text sent by the backend, falling back to
// the standard text for the code.
func reasonPhrase(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != resp.Status && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
