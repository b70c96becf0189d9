package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"datalogger/internal/auth"
	"datalogger/internal/config"
	"datalogger/internal/logging"
	"datalogger/internal/metrics"
	"datalogger/internal/settings"
	"datalogger/internal/storage"
	"datalogger/internal/telemetry"
	"datalogger/internal/upload"
)

type fixture struct {
	cfg      config.Config
	srv      *Server
	h        http.Handler
	dir      *storage.Dir
	state    *telemetry.State
	settings *settings.Store
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	var cfg config.Config
	cfg.LoadDefaults()
	cfg.Root = filepath.Join(t.TempDir(), "sd")
	for _, fn := range mutate {
		fn(&cfg)
	}
	require.NoError(t, cfg.Finalize())

	dir, err := storage.New(cfg.Root)
	require.NoError(t, err)
	require.NoError(t, dir.Reserve(cfg.StateDir))
	st, err := settings.Open(context.Background(), cfg.StateDir, logging.Discard())
	require.NoError(t, err)
	f := &fixture{
		cfg:      cfg,
		dir:      dir,
		state:    telemetry.NewState(),
		settings: st,
		metrics:  metrics.New(),
	}
	f.srv, err = New(Options{
		Config:   cfg,
		Dir:      dir,
		State:    f.state,
		Settings: st,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	f.h = f.srv.Handler()
	return f
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, r)
	return rec
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Root, name), []byte(content), 0o644))
}

func withUser(user, pass string) func(*config.Config) {
	h, err := auth.HashPassword(pass, bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return func(c *config.Config) {
		c.Users = map[string]config.User{user: {Bcrypt: h}}
	}
}

// counter sums every series of a counter family in reg.
func counter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var v float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			v += m.GetCounter().GetValue()
		}
	}
	return v
}

func TestRouteTable_CoversEveryRoute(t *testing.T) {
	f := newFixture(t)
	seen := map[routeID]bool{}
	for _, rt := range routes {
		seen[rt.id] = true
		assert.NotPanics(t, func() { f.srv.handlerFor(rt) }, rt.pattern)
		if rt.id == routeAsset || rt.id == routeIndex {
			assert.NotEmpty(t, rt.asset, rt.pattern)
		}
	}
	for id := routeIndex; id <= routeDAV; id++ {
		assert.True(t, seen[id], "route %d has no table entry", id)
	}
}

func TestAssets(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path  string
		ctype string
		has   string
		cache string
	}{
		{path: "/", ctype: "text/html", has: "upload-form", cache: "no-store"},
		{path: "/style.css", ctype: "text/css", has: "img.thumb", cache: "public, max-age=3600"},
		{path: "/script.js", ctype: "text/javascript", has: "/ws/adc", cache: "public, max-age=3600"},
		{path: "/logging.html", ctype: "text/html", has: "log-toggle", cache: "no-store"},
		{path: "/settings.html", ctype: "text/html", has: "settings-form", cache: "no-store"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.get(tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tt.ctype)
			assert.Contains(t, rec.Body.String(), tt.has)
			assert.Equal(t, tt.cache, rec.Header().Get("Cache-Control"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get("/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(httptest.NewRequest(http.MethodPost, "/list", nil)).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	f.get("/list")
	assert.Equal(t, 2.0, counter(t, f.metrics.Registry(), "datalogger_http_requests_total"))

	rec = f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `datalogger_http_requests_total{code="200",route="list"} 1`)
	assert.Contains(t, rec.Body.String(), `datalogger_render_documents_total{document="list.html",result="ok"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "protocol", err: upload.ErrMissingBoundary, want: http.StatusBadRequest},
		{name: "timeout", err: &upload.TransportError{Kind: upload.Timeout, Err: os.ErrDeadlineExceeded}, want: http.StatusRequestTimeout},
		{name: "peer closed", err: &upload.TransportError{Kind: upload.PeerClosed, Err: io.EOF}, want: http.StatusBadRequest},
		{name: "generic transport", err: &upload.TransportError{Kind: upload.Generic, Err: errors.New("reset")}, want: http.StatusInternalServerError},
		{name: "wrapped transport", err: fmt.Errorf("x: %w", &upload.TransportError{Kind: upload.Timeout}), want: http.StatusRequestTimeout},
		{name: "storage", err: fmt.Errorf("%w: open: denied", upload.ErrStorage), want: http.StatusInternalServerError},
		{name: "buffer", err: upload.ErrBufferTooSmall, want: http.StatusInternalServerError},
		{name: "reserved", err: fmt.Errorf("%w: open: %w", upload.ErrStorage, storage.ErrReserved), want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	err := writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGuardedRoutes(t *testing.T) {
	f := newFixture(t, withUser("alice", "pw"))
	f.write(t, "a.txt", "x")

	assert.Equal(t, http.StatusOK, f.get("/list").Code)
	assert.Equal(t, http.StatusOK, f.get("/adc").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/delete?file=a.txt").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/delete_all").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/log?active=1").Code)
	assert.False(t, f.state.LoggingEnabled())

	r := httptest.NewRequest(http.MethodGet, "/delete?file=a.txt", nil)
	r.SetBasicAuth("alice", "pw")
	assert.Equal(t, http.StatusOK, f.do(r).Code)
}

// blockingBody signals its first read and then waits for release.
type blockingBody struct {
	started chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if !b.once {
		b.once = true
		close(b.started)
	}
	<-b.release
	return 0, io.ErrUnexpectedEOF
}

func TestThrottle_RejectsBeyondBacklog(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Workers = 1
		c.Backlog = 0
		c.BacklogTimeout = config.Duration{Duration: 50 * time.Millisecond}
	})
	body := &blockingBody{started: make(chan struct{}), release: make(chan struct{})}
	r := httptest.NewRequest(http.MethodPost, "/upload", body)
	r.Header.Set("Content-Type", "multipart/form-data; boundary=X")
	r.ContentLength = 100

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- f.do(r) }()
	<-body.started

	assert.Equal(t, http.StatusTooManyRequests, f.get("/list").Code)
	// unthrottled routes still answer
	assert.Equal(t, http.StatusOK, f.get("/healthz").Code)

	close(body.release)
	rec := <-done
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusOK, f.get("/list").Code)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "required"))
}
