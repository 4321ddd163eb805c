// Package pagination implements keyset paging over (created_at, id).
//
// Offset paging drifts on an append-only table; a cursor pinned to the last
// row of the previous page does not. The cursor is opaque to clients: a
// base64 wrapping of the row's creation nanos and id.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadCursor = errors.New("pagination: invalid cursor")

// Cursor is a resume position in a newest-first listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the position as an opaque token.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Encode. An empty token decodes to nil,
// meaning "start from the top".
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, errBadCursor
	}
	nanosPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errBadCursor
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, errBadCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage turns a limit+1 fetch into a page: trims the probe row, and
// when it was present returns the next cursor keyed off the page's last item.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
