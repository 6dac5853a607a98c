package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor is a keyset position into a (t_start, id) ordered entity scan:
// "everything strictly after (or before, for a descending scan) this
// row". It lets QueryTime page past its limit without an OFFSET, which
// would re-walk every skipped row on each page.
type Cursor struct {
	TS time.Time
	ID uuid.UUID
}

// EncodeCursor produces the opaque token QueryTime returns as
// next_cursor and DecodeCursor accepts back as the cursor request field.
func EncodeCursor(c Cursor) string {
	s := fmt.Sprintf("%s|%s", c.TS.UTC().Format(time.RFC3339Nano), c.ID.String())
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty string
// decodes to (nil, nil): "start from the beginning of the scan".
func DecodeCursor(v string) (*Cursor, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &Cursor{TS: ts, ID: id}, nil
}
