package httpserver

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"datalogger/internal/auth"
	"datalogger/internal/config"
	"datalogger/internal/logging"
	"datalogger/internal/metrics"
	"datalogger/internal/render"
	"datalogger/internal/settings"
	"datalogger/internal/storage"
	"datalogger/internal/telemetry"
	"datalogger/internal/upload"
)

const tracerName = "datalogger/httpserver"

type Options struct {
	Config   config.Config
	Dir      *storage.Dir
	State    *telemetry.State
	Settings *settings.Store
	Metrics  *metrics.Metrics
	Logger   logging.Logger

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

type Server struct {
	cfg      config.Config
	dir      *storage.Dir
	state    *telemetry.State
	settings *settings.Store
	metrics  *metrics.Metrics
	log      logging.Logger
	tracer   trace.Tracer
	guard    *auth.Guard
	uploads  *upload.Manager

	webFS   fs.FS
	listDoc *render.Document
	msgDoc  *render.Document

	// wsPeriod is the push interval of /ws/adc.
	wsPeriod time.Duration
}

//go:embed web/*
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Dir == nil || opts.State == nil || opts.Settings == nil {
		return nil, errors.New("httpserver: storage, state and settings are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	listBody, err := fs.ReadFile(sub, "list.html")
	if err != nil {
		return nil, fmt.Errorf("load list template: %w", err)
	}
	msgBody, err := fs.ReadFile(sub, "message.html")
	if err != nil {
		return nil, fmt.Errorf("load message template: %w", err)
	}

	up := opts.Config.Upload
	return &Server{
		cfg:      opts.Config,
		dir:      opts.Dir,
		state:    opts.State,
		settings: opts.Settings,
		metrics:  m,
		log:      log,
		tracer:   tracer,
		guard:    auth.NewGuard(opts.Config.Users, log),
		uploads: upload.New(opts.Dir, upload.Options{
			BufferSize:   up.BufferSize,
			MaxFilename:  up.MaxFilename,
			CarryOverlap: up.CarryOverlap,
			RecvTimeout:  up.RecvTimeout.Duration,
		}, log),
		webFS:    sub,
		listDoc:  render.NewDocument("list.html", listBody, log, "%%FILE_LIST_ROWS%%"),
		msgDoc:   render.NewDocument("message.html", msgBody, log, "%%MESSAGE_TITLE%%", "%%MESSAGE_CLASS%%", "%%MESSAGE_TEXT%%"),
		wsPeriod: wsPeriod(opts.Config.Telemetry.Interval.Duration),
	}, nil
}

// Handler resolves the route table onto a chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withHeaders)

	workers, backlog := max(s.cfg.Workers, 1), max(s.cfg.Backlog, 0)
	timeout := s.cfg.BacklogTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// One pool shared by every throttled route.
	throttle := middleware.ThrottleBacklog(workers, backlog, timeout)

	for _, rt := range routes {
		h := s.handlerFor(rt)
		if h == nil {
			continue
		}
		if rt.guarded {
			h = s.guard.Middleware(h)
		}
		if !rt.unthrottled {
			h = throttle(h)
		}
		h = s.instrument(rt, h)
		if rt.method == "" {
			r.Handle(rt.pattern, h)
		} else {
			r.Method(rt.method, rt.pattern, h)
		}
	}
	return r
}

func (s *Server) handlerFor(rt route) http.Handler {
	switch rt.id {
	case routeIndex, routeAsset:
		return s.asset(rt.asset)
	case routeList:
		return http.HandlerFunc(s.handleList)
	case routeDownload:
		return http.HandlerFunc(s.handleDownload)
	case routeDelete:
		return http.HandlerFunc(s.handleDelete)
	case routeDeleteAll:
		return http.HandlerFunc(s.handleDeleteAll)
	case routeUpload:
		return http.HandlerFunc(s.handleUpload)
	case routeADC:
		return http.HandlerFunc(s.handleADC)
	case routeLogToggle:
		return http.HandlerFunc(s.handleLogToggle)
	case routeLogStatus:
		return http.HandlerFunc(s.handleLogStatus)
	case routeCurrentLogFile:
		return http.HandlerFunc(s.handleCurrentLogFile)
	case routeSettingsGet:
		return http.HandlerFunc(s.handleSettingsGet)
	case routeSettingsPost:
		return http.HandlerFunc(s.handleSettingsPost)
	case routeChannelConfigsGet:
		return http.HandlerFunc(s.handleChannelConfigsGet)
	case routeChannelConfigsPost:
		return http.HandlerFunc(s.handleChannelConfigsPost)
	case routeThumb:
		return http.HandlerFunc(s.handleThumb)
	case routeMetrics:
		return s.metrics.Handler()
	case routeHealth:
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("ok\n"))
		})
	case routeWS:
		return http.HandlerFunc(s.handleWS)
	case routeDAV:
		if !s.cfg.WebDAV {
			return nil
		}
		return s.davHandler()
	}
	panic(fmt.Sprintf("httpserver: unhandled route %d", rt.id))
}

// instrument wraps one classified route with its span, access log line and
// request metrics.
func (s *Server) instrument(rt route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx, span := s.tracer.Start(r.Context(), "http."+rt.name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", rt.pattern),
				attribute.String("http.request_id", reqID),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", code))
		// 4xx keeps whatever status the handler recorded.
		switch {
		case code >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(code))
		case code < http.StatusBadRequest:
			span.SetStatus(codes.Ok, "")
		}

		d := time.Since(start)
		s.metrics.ObserveRequest(rt.name, code, d)
		s.log.Info(ctx, "request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", rt.name,
			"status", code,
			"bytes", ww.BytesWritten(),
			"dur", d,
		)
	})
}

// recordError attaches err to the span of the current request.
func recordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		switch {
		case r.URL.Path == "/style.css", r.URL.Path == "/script.js":
			w.Header().Set("Cache-Control", "public, max-age=3600")
		case strings.HasPrefix(r.URL.Path, "/dav/"):
			// left to the webdav handler
		default:
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps an upload error onto its HTTP status.
func statusFor(err error) int {
	var te *upload.TransportError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &te):
		switch te.Kind {
		case upload.Timeout:
			return http.StatusRequestTimeout
		case upload.PeerClosed:
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case errors.Is(err, upload.ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrReserved):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// reply is the JSON body of the file endpoints.
type reply struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
}

// writeJSON encodes v fully before writing anything. An encode failure
// becomes a bare 500 and is returned to the caller for logging.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, "JSON encoding failed", http.StatusInternalServerError)
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *Server) json(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.log.Error(r.Context(), "write response", "path", r.URL.Path, "err", err)
	}
}

// message renders message.html with the given status.
func (s *Server) message(w http.ResponseWriter, r *http.Request, status int, title, class, text string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := s.msgDoc.RenderStrings(r.Context(), render.NewChunkedEmitter(w),
		html.EscapeString(title), class, html.EscapeString(text))
	s.metrics.ObserveRender(s.msgDoc.Name(), err)
	if err != nil {
		s.log.Warn(r.Context(), "message page aborted", "title", title, "err", err)
	}
}

func (s *Server) asset(name string) http.Handler {
	ct := "text/html; charset=utf-8"
	switch {
	case strings.HasSuffix(name, ".css"):
		ct = "text/css; charset=utf-8"
	case strings.HasSuffix(name, ".js"):
		ct = "text/javascript; charset=utf-8"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := fs.ReadFile(s.webFS, name)
		if err != nil {
			s.log.Error(r.Context(), "missing embedded asset", "asset", name, "err", err)
			http.Error(w, "missing ui", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ct)
		_, _ = w.Write(b)
	})
}
