// Package export writes the cached inventory to a sink as compressed JSON
// Lines, for reporting and backups.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/internal/codec"
	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/sink"
)

// NamePrefix starts the name of every export object.
const NamePrefix = "inventory-"

// timeLayout sorts lexically in time order.
const timeLayout = "20060102T150405Z"

// Source supplies the inventory to export.
type Source interface {
	GetAllBooks(ctx context.Context) (shelf.Snapshot, error)
	GetUsers(ctx context.Context) (shelf.Roster, error)
}

// Compile-time check that the client can be exported.
var _ Source = (*shelf.Client)(nil)

// Result describes one written export.
type Result struct {
	Name     string
	Location string
	Books    int
	Users    int
	Bytes    int64
	Stale    bool
	Pruned   []string
}

// Header is the first line of every export.
type Header struct {
	Kind        string    `json:"kind"`
	ExportedAt  time.Time `json:"exported_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale,omitempty"`
	Books       int       `json:"books"`
	Users       int       `json:"users"`
}

// Line is every line after the header: one book or one user.
type Line struct {
	Kind string          `json:"kind"`
	Book *inventory.Book `json:"book,omitempty"`
	User *inventory.User `json:"user,omitempty"`
}

// Line kinds.
const (
	KindHeader = "header"
	KindBook   = "book"
	KindUser   = "user"
)

// Exporter writes inventory snapshots to a sink.
type Exporter struct {
	sink   sink.Sink
	codec  codec.Codec
	keep   int
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithCodec sets the compression. Default is zstd.
func WithCodec(c codec.Codec) Option {
	return func(e *Exporter) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithKeep prunes all but the newest n exports after each write.
// Zero keeps everything.
func WithKeep(n int) Option {
	return func(e *Exporter) {
		if n >= 0 {
			e.keep = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		e.logger = l
	}
}

// New creates an Exporter writing to s.
func New(s sink.Sink, opts ...Option) *Exporter {
	e := &Exporter{
		sink:   s,
		codec:  codec.NewZstd(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes every cached book and user as one new object.
// A stale snapshot is still exported and flagged in the header.
func (e *Exporter) Export(ctx context.Context, src Source) (Result, error) {
	books, err := src.GetAllBooks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading books: %w", err)
	}
	users, err := src.GetUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading users: %w", err)
	}

	at := e.now().UTC()
	var buf bytes.Buffer
	if err := e.encode(&buf, at, books, users); err != nil {
		return Result{}, err
	}

	res := Result{
		Name:  e.objectName(at),
		Books: len(books.Books),
		Users: len(users.Users),
		Bytes: int64(buf.Len()),
		Stale: books.Stale,
	}
	res.Location = e.sink.Location(res.Name)

	if err := e.sink.Put(ctx, res.Name, &buf); err != nil {
		return Result{}, fmt.Errorf("writing export: %w", err)
	}

	e.logger.Info("inventory exported",
		zap.String("location", res.Location),
		zap.Int("books", res.Books),
		zap.Int("users", res.Users),
		zap.Int64("bytes", res.Bytes),
		zap.Bool("stale", res.Stale),
	)

	if e.keep > 0 {
		pruned, err := e.prune(ctx)
		if err != nil {
			// The export itself succeeded.
			e.logger.Warn("failed to prune old exports", zap.Error(err))
		}
		res.Pruned = pruned
	}
	return res, nil
}

func (e *Exporter) encode(buf *bytes.Buffer, at time.Time, books shelf.Snapshot, users shelf.Roster) error {
	w, err := e.codec.Writer(buf)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}

	enc := json.NewEncoder(w)
	err = enc.Encode(Header{
		Kind:        KindHeader,
		ExportedAt:  at,
		RefreshedAt: books.RefreshedAt.UTC(),
		Stale:       books.Stale,
		Books:       len(books.Books),
		Users:       len(users.Users),
	})
	for i := 0; err == nil && i < len(books.Books); i++ {
		err = enc.Encode(Line{Kind: KindBook, Book: &books.Books[i]})
	}
	for i := 0; err == nil && i < len(users.Users); i++ {
		err = enc.Encode(Line{Kind: KindUser, User: &users.Users[i]})
	}
	if err != nil {
		w.Close()
		return fmt.Errorf("encoding export: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing compressor: %w", err)
	}
	return nil
}

func (e *Exporter) objectName(at time.Time) string {
	name := NamePrefix + at.Format(timeLayout) + "-" + e.newID() + ".jsonl"
	if ext := e.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return name
}

// prune deletes all but the newest e.keep exports.
func (e *Exporter) prune(ctx context.Context) ([]string, error) {
	names, err := e.sink.List(ctx, NamePrefix)
	if err != nil {
		return nil, err
	}
	if len(names) <= e.keep {
		return nil, nil
	}

	var pruned []string
	for _, name := range names[:len(names)-e.keep] {
		if err := e.sink.Delete(ctx, name); err != nil && !errors.Is(err, sink.ErrNotFound) {
			return pruned, err
		}
		pruned = append(pruned, name)
	}
	e.logger.Debug("pruned old exports", zap.Strings("names", pruned))
	return pruned, nil
}
