package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/shelf"
)

// maxBody caps request bodies; the only input is a user id.
const maxBody = 4 << 10

// BooksResponse is the body of the book listings.
type BooksResponse struct {
	Books       []shelf.Book `json:"books"`
	RefreshedAt time.Time    `json:"refreshed_at"`
	Stale       bool         `json:"stale,omitempty"`
}

// UsersResponse is the body of GET /users.
type UsersResponse struct {
	Users       []shelf.User `json:"users"`
	RefreshedAt time.Time    `json:"refreshed_at"`
	Stale       bool         `json:"stale,omitempty"`
}

// MutationRequest is the JSON body accepted by checkout and return.
type MutationRequest struct {
	UserID string `json:"user_id"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string    `json:"status"`
	Books         int       `json:"books"`
	Users         int       `json:"users"`
	RefreshedAt   time.Time `json:"refreshed_at"`
	Stale         bool      `json:"stale"`
	ResyncPending bool      `json:"resync_pending"`
	LookupHitRate float64   `json:"lookup_hit_rate"`
}

func (s *Server) listBooks(list func(context.Context) (shelf.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := list(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		setStale(w, snap.Status)
		writeJSON(w, http.StatusOK, BooksResponse{
			Books:       nonNil(snap.Books),
			RefreshedAt: snap.RefreshedAt,
			Stale:       snap.Stale,
		})
	}
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	b, err := s.lib.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	roster, err := s.lib.GetUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setStale(w, roster.Status)
	users := roster.Users
	if users == nil {
		users = []shelf.User{}
	}
	writeJSON(w, http.StatusOK, UsersResponse{
		Users:       users,
		RefreshedAt: roster.RefreshedAt,
		Stale:       roster.Stale,
	})
}

func (s *Server) mutate(apply func(ctx context.Context, bookID, userID string) (shelf.Book, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := readUserID(w, r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
			return
		}

		b, err := apply(r.Context(), r.PathValue("id"), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	st := s.lib.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"books":        st.Books,
		"users":        st.Users,
		"refreshed_at": st.RefreshedAt,
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	st := s.lib.Stats()
	status := "ok"
	if st.RefreshedAt.IsZero() {
		status = "cold"
	} else if st.Stale {
		status = "stale"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Books:         st.Books,
		Users:         st.Users,
		RefreshedAt:   st.RefreshedAt,
		Stale:         st.Stale,
		ResyncPending: st.ResyncPending,
		LookupHitRate: st.LookupHitRate,
	})
}

// readUserID takes user_id from a JSON body or a form value.
func readUserID(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req MutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", errors.New("invalid JSON body")
		}
		if req.UserID == "" {
			return "", errors.New("user_id is required")
		}
		return req.UserID, nil
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		return "", errors.New("user_id is required")
	}
	return userID, nil
}

// statusFor maps library errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		refreshErr *shelf.RefreshError
		netErr     *shelf.NetworkError
		parseErr   *shelf.ParseError
	)
	switch {
	case errors.Is(err, shelf.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, shelf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shelf.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shelf.ErrNoWriter):
		return http.StatusNotImplemented
	case errors.As(err, &refreshErr), errors.Is(err, shelf.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		// The remote store answered with a record that cannot be read.
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("requestID", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
}

func setStale(w http.ResponseWriter, st shelf.Status) {
	if st.Stale {
		w.Header().Set(HeaderStale, strconv.FormatBool(true))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(books []shelf.Book) []shelf.Book {
	if books == nil {
		return []shelf.Book{}
	}
	return books
}
