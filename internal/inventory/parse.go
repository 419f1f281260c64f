package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Remote table field names.
const (
	FieldTitle     = "Title"
	FieldAuthors   = "Authors"
	FieldAvailable = "Copies available"
	FieldInStock   = "Copies in stock"
	FieldName      = "Name"

	FieldDate      = "Date"
	FieldBook      = "Book"
	FieldDirection = "Checking out/returning?"
	FieldBorrower  = "Person borrowing"
)

// fieldID names the record identifier in parse errors.
const fieldID = "id"

var (
	// ErrMissingField indicates a mandatory field is absent.
	ErrMissingField = errors.New("inventory: missing field")

	// ErrWrongType indicates a field holds a value of an unexpected type.
	ErrWrongType = errors.New("inventory: wrong field type")

	// ErrInvalidCount indicates a copy count is negative, fractional or
	// larger than the stock.
	ErrInvalidCount = errors.New("inventory: invalid count")
)

// Record is one row of a remote table.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ParseError describes a record that could not be turned into a Book or User.
type ParseError struct {
	RecordID string
	Field    string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing record %q field %q: %v", e.RecordID, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseBook converts a books-table row into a Book.
// ID, title and both copy counts are mandatory; authors default to empty.
func ParseBook(r Record) (Book, error) {
	if r.ID == "" {
		return Book{}, &ParseError{Field: fieldID, Err: ErrMissingField}
	}

	title, err := stringField(r, FieldTitle, true)
	if err != nil {
		return Book{}, err
	}
	authors, err := stringField(r, FieldAuthors, false)
	if err != nil {
		return Book{}, err
	}
	available, err := countField(r, FieldAvailable)
	if err != nil {
		return Book{}, err
	}
	inStock, err := countField(r, FieldInStock)
	if err != nil {
		return Book{}, err
	}

	b := Book{
		ID:        r.ID,
		Title:     title,
		Authors:   authors,
		Available: available,
		InStock:   inStock,
	}
	if err := b.Validate(); err != nil {
		return Book{}, &ParseError{RecordID: r.ID, Field: FieldAvailable, Err: err}
	}
	return b, nil
}

// ParseUser converts a users-table row into a User.
func ParseUser(r Record) (User, error) {
	if r.ID == "" {
		return User{}, &ParseError{Field: fieldID, Err: ErrMissingField}
	}
	name, err := stringField(r, FieldName, true)
	if err != nil {
		return User{}, err
	}
	return User{ID: r.ID, Name: name}, nil
}

// BookFields returns the remote field set describing b.
func BookFields(b Book) map[string]any {
	fields := map[string]any{
		FieldTitle:     b.Title,
		FieldAvailable: b.Available,
		FieldInStock:   b.InStock,
	}
	if b.Authors != "" {
		fields[FieldAuthors] = b.Authors
	}
	return fields
}

// AccessFields returns the remote field set for an access-log row.
// Linked-record fields are single-element id lists.
func AccessFields(e AccessEntry) map[string]any {
	return map[string]any{
		FieldDate:      e.At.UTC().Format("2006-01-02T15:04:05.000Z"),
		FieldBook:      []string{e.BookID},
		FieldDirection: e.Direction.String(),
		FieldBorrower:  []string{e.UserID},
	}
}

func stringField(r Record, name string, required bool) (string, error) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		if required {
			return "", &ParseError{RecordID: r.ID, Field: name, Err: ErrMissingField}
		}
		return "", nil
	}

	switch s := v.(type) {
	case string:
		if required && strings.TrimSpace(s) == "" {
			return "", &ParseError{RecordID: r.ID, Field: name, Err: ErrMissingField}
		}
		return s, nil
	case []any:
		// Lookup and multiple-select fields arrive as lists.
		parts := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return "", &ParseError{RecordID: r.ID, Field: name, Err: ErrWrongType}
			}
			parts = append(parts, str)
		}
		joined := strings.Join(parts, ", ")
		if required && joined == "" {
			return "", &ParseError{RecordID: r.ID, Field: name, Err: ErrMissingField}
		}
		return joined, nil
	default:
		return "", &ParseError{RecordID: r.ID, Field: name, Err: ErrWrongType}
	}
}

func countField(r Record, name string) (int, error) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return 0, &ParseError{RecordID: r.ID, Field: name, Err: ErrMissingField}
	}

	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			f = float64(i)
			break
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, &ParseError{RecordID: r.ID, Field: name, Err: ErrWrongType}
		}
		f = parsed
	default:
		return 0, &ParseError{RecordID: r.ID, Field: name, Err: ErrWrongType}
	}

	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, &ParseError{RecordID: r.ID, Field: name, Err: ErrInvalidCount}
	}
	return int(f), nil
}
