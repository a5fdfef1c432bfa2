package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/job-ledger/pkg/core"
)

// Cursor is the keyset watermark of a listing: the (created_at, id) of the
// last row returned on the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// wire is the canonical document. Field order is the sorted key order.
type wire struct {
	CreatedAt string `json:"created_at"`
	ID        string `json:"id"`
}

// Encode returns the opaque token for (createdAt, id).
func Encode(createdAt time.Time, id string) string {
	raw, _ := json.Marshal(wire{
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		ID:        id,
	})
	return base64.URLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. Padding is optional.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url", core.ErrMalformedCursor)
	}

	var w map[string]any
	if err := json.Unmarshal(raw, &w); err != nil {
		return Cursor{}, fmt.Errorf("%w: not a JSON object", core.ErrMalformedCursor)
	}

	createdAt, ok := w["created_at"].(string)
	if !ok || createdAt == "" {
		return Cursor{}, fmt.Errorf("%w: missing created_at", core.ErrMalformedCursor)
	}
	id, ok := w["id"].(string)
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: missing id", core.ErrMalformedCursor)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: created_at is not ISO-8601", core.ErrMalformedCursor)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: id is not a UUID", core.ErrMalformedCursor)
	}

	// Stored ids are lowercase and compared as text.
	return Cursor{CreatedAt: ts.UTC(), ID: parsed.String()}, nil
}

// String returns the encoded form of c.
func (c Cursor) String() string {
	return Encode(c.CreatedAt, c.ID)
}
