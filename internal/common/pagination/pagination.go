package pagination

import (
	"strconv"
	"strings"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Cursor is the id of the oldest message the caller already holds.
type Cursor struct {
	ID int64
}

func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

func DecodeCursor(encoded string) (*Cursor, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}

	id, err := strconv.ParseInt(encoded, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.Validation("invalid cursor")
	}

	return &Cursor{ID: id}, nil
}

type Limits struct {
	Default int
	Max     int
}

func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// Clamp keeps limit inside [1, Max]; non-positive values take the default.
func (l Limits) Clamp(limit int) int {
	if limit <= 0 {
		return l.Default
	}
	if limit > l.Max {
		return l.Max
	}
	return limit
}

type Request struct {
	Cursor *Cursor
	Limit  int
}

// BeforeID returns the cursor id or nil for a head request.
func (r Request) BeforeID() *int64 {
	if r.Cursor == nil {
		return nil
	}
	id := r.Cursor.ID
	return &id
}

func ParseRequest(cursor, limit string, limits Limits) (Request, error) {
	req := Request{Limit: limits.Default}

	c, err := DecodeCursor(cursor)
	if err != nil {
		return Request{}, err
	}
	req.Cursor = c

	if limit = strings.TrimSpace(limit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return Request{}, errors.Validation("invalid limit")
		}
		req.Limit = limits.Clamp(n)
	}

	return req, nil
}

// HasMore reports whether a page that came back with n items may have older neighbours.
func HasMore(n, limit int) bool {
	return limit > 0 && n >= limit
}
