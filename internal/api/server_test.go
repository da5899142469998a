package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/anttp-gateway/internal/backend"
	"github.com/JakeFAU/anttp-gateway/internal/scheduler"
)

const xor = "a0f3c6d1e2b4958677aa00bb11cc22dd33ee44ff5566778899aabbccddeeff00"

func TestServer_Liveness(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{err: errors.New("unused")}, Config{})
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, "/", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		require.Equal(t, "anttp server is live", rec.Body.String())
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestServer_InvalidAddress(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{err: errors.New("unused")}, Config{})
	for _, path := range []string{"/favicon.ico", "/" + xor[:10], "/" + xor + "/a%20b", "/" + xor + "/x/"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if path == "/"+xor+"/x/" {
			require.NotEqual(t, http.StatusBadRequest, rec.Code)
			continue
		}
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Equal(t, "Invalid XOR name", rec.Body.String())
		require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	}
}

func TestServer_QueryIsNotValidated(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{status: http.StatusOK, contentType: "text/plain", body: "ok"}
	srv := newTestServer(t, fb, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor+"?download=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{xor}, fb.opened)
}

func TestServer_PassThroughStreamsBackend(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Ant-Source", "store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<p>hello</p>"))
	}))
	defer store.Close()

	srv := newTestServer(t, newBackend(t, store.URL), Config{})
	gw := httptest.NewServer(srv.Handler())
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/" + xor + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	require.Equal(t, "store", resp.Header.Get("X-Ant-Source"))
	require.Equal(t, "<p>hello</p>", string(body))
	require.Equal(t, "/"+xor+"/index.html", <-paths)
}

func TestServer_PassThroughBackendStatus(t *testing.T) {
	t.Parallel()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer store.Close()

	srv := newTestServer(t, newBackend(t, store.URL), Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor, nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Error fetching XOR content: Not Found", rec.Body.String())
}

func TestServer_PassThroughTransportError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{err: errors.New("connection refused")}, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor, nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	require.Equal(t, "Server error: connection refused", rec.Body.String())
}

func TestServer_CinemaMode(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		status:      http.StatusOK,
		contentType: "video/mp4",
		body:        "frames",
	}

	enabled := newTestServer(t, fb, Config{Cinema: CinemaConfig{Enabled: true}})
	rec := httptest.NewRecorder()
	enabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor+"/clip.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	page := rec.Body.String()
	require.Contains(t, page, `<source src="http://store.invalid/`+xor+`/clip.mp4" type="video/mp4">`)
	require.Contains(t, page, DefaultPlayerJSURL)
	require.Contains(t, page, "videojs('player'")

	disabled := newTestServer(t, fb, Config{})
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor+"/clip.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	require.Equal(t, "frames", rec.Body.String())
}

func TestServer_CinemaModeIgnoresOtherTypes(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{status: http.StatusOK, contentType: "image/png", body: "png"}
	srv := newTestServer(t, fb, Config{Cinema: CinemaConfig{Enabled: true, PlayerJSURL: "/assets/video.js"}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+xor, nil))
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "png", rec.Body.String())
}

// TestServer_UpgradeOnAnyPath hijacks through the full middleware chain.
func TestServer_UpgradeOnAnyPath(t *testing.T) {
	t.Parallel()

	upgrader := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = wsutil.WriteServerText(conn, []byte("channel:"+r.URL.Path))
	})
	srv, err := NewServer(&fakeBackend{}, upgrader, Config{}, zap.NewNop())
	require.NoError(t, err)
	gw := httptest.NewServer(srv.Handler())
	defer gw.Close()

	for _, path := range []string{"/", "/socket", "/" + xor} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(gw.URL, "http")+path)
		cancel()
		require.NoError(t, err)
		msg, op, err := wsutil.ReadServerData(conn)
		require.NoError(t, err)
		require.Equal(t, ws.OpText, op)
		require.Equal(t, "channel:"+path, string(msg))
		require.NoError(t, conn.Close())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	h := recoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	h := loggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusTeapot, "short and stout")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tea", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, int64(http.StatusTeapot), fields["status"])
	require.Equal(t, int64(len("short and stout")), fields["bytes"])
	require.Equal(t, "/tea", fields["path"])
}

func TestCopyHeadersDropsHopByHop(t *testing.T) {
	t.Parallel()

	src := http.Header{}
	src.Set("Content-Type", "text/plain")
	src.Set("Connection", "X-Private, keep-alive")
	src.Set("X-Private", "secret")
	src.Set("Keep-Alive", "timeout=5")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("ETag", `"abc"`)

	dst := http.Header{}
	copyHeaders(dst, src)
	require.Equal(t, "text/plain", dst.Get("Content-Type"))
	require.Equal(t, `"abc"`, dst.Get("ETag"))
	for _, h := range []string{"Connection", "X-Private", "Keep-Alive", "Transfer-Encoding"} {
		require.Empty(t, dst.Get(h), h)
	}
}

func TestOpsHandler(t *testing.T) {
	t.Parallel()

	h := NewOpsHandler(fakeStats{st: scheduler.Stats{Queued: 4, Active: 5, MaxConcurrent: 5}}, fakeSessions(2))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ready readyDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	require.Equal(t, readyDTO{Status: "ready", Queued: 4, Active: 5, MaxConcurrent: 5, Sessions: 2}, ready)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gateway_scheduler_active_jobs")
}

func newTestServer(t *testing.T, b Backend, cfg Config) *Server {
	t.Helper()
	srv, err := NewServer(b, nil, cfg, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func newBackend(t *testing.T, url string) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

type fakeBackend struct {
	status      int
	contentType string
	body        string
	err         error
	opened      []string
}

func (f *fakeBackend) Open(_ context.Context, address string) (*http.Response, error) {
	f.opened = append(f.opened, address)
	if f.err != nil {
		return nil, f.err
	}
	h := http.Header{}
	if f.contentType != "" {
		h.Set("Content-Type", f.contentType)
	}
	return &http.Response{
		StatusCode: f.status,
		Status:     http.StatusText(f.status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func (f *fakeBackend) URL(address string) string {
	return "http://store.invalid/" + address
}

type fakeStats struct {
	st scheduler.Stats
}

func (f fakeStats) Stats() scheduler.Stats {
	return f.st
}

type fakeSessions int

func (f fakeSessions) Sessions() int {
	return int(f)
}
