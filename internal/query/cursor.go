package query

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/roach88/runlog/internal/model"
)

// cursor is the keyset position serialized into the opaque page token.
// Callers must treat the token as opaque; its layout may change.
type cursor struct {
	StartTime time.Time `json:"start_time"`
	EventID   string    `json:"event_id"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	var c cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, &model.ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, &model.ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	if c.EventID == "" || c.StartTime.IsZero() {
		return c, &model.ValidationError{Field: "cursor", Reason: "incomplete token"}
	}
	return c, nil
}
