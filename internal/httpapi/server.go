// Package httpapi serves the library inventory over HTTP as JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
)

// Headers set on responses.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderStale     = "X-Shelf-Stale"
)

// Library is the inventory the server exposes.
type Library interface {
	GetAllBooks(ctx context.Context) (shelf.Snapshot, error)
	GetAvailableBooks(ctx context.Context) (shelf.Snapshot, error)
	GetCheckedOutBooks(ctx context.Context) (shelf.Snapshot, error)
	GetBook(ctx context.Context, id string) (shelf.Book, error)
	GetUsers(ctx context.Context) (shelf.Roster, error)
	Checkout(ctx context.Context, bookID, userID string) (shelf.Book, error)
	Return(ctx context.Context, bookID, userID string) (shelf.Book, error)
	Refresh(ctx context.Context) error
	Stats() shelf.Stats
}

// Compile-time check that the client can be served.
var _ Library = (*shelf.Client)(nil)

// Server routes HTTP requests to a Library.
type Server struct {
	lib     Library
	metrics http.Handler
	logger  *zap.Logger
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a Server for lib.
func New(lib Library, opts ...Option) *Server {
	s := &Server{
		lib:    lib,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /books", s.listBooks(lib.GetAllBooks))
	mux.HandleFunc("GET /books/available", s.listBooks(lib.GetAvailableBooks))
	mux.HandleFunc("GET /books/checked-out", s.listBooks(lib.GetCheckedOutBooks))
	mux.HandleFunc("GET /books/{id}", s.getBook)
	mux.HandleFunc("POST /books/{id}/checkout", s.mutate(lib.Checkout))
	mux.HandleFunc("POST /books/{id}/return", s.mutate(lib.Return))
	mux.HandleFunc("GET /users", s.listUsers)
	mux.HandleFunc("POST /refresh", s.refresh)
	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	s.handler = otelhttp.NewHandler(s.withRequestLog(mux), "shelf")
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestLog tags each request with an id and logs it when done.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.logger.Info("request",
			zap.String("requestID", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
