package persistence

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the keyset position of a paginated execution scan: results
// resume strictly after (StartedAt, ID) in descending order, so rows
// inserted after the cursor was issued never shift already-returned pages.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// EncodeCursor renders an opaque continuation token.
func EncodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%d:%s", c.StartedAt.UnixMilli(), c.ID)

	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a continuation token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	millis, id, found := strings.Cut(string(raw), ":")
	if !found || id == "" {
		return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}

	unixMs, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	return Cursor{StartedAt: time.UnixMilli(unixMs).UTC(), ID: id}, nil
}
