package docstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor marks a position in an ordered result: the order value and id of
// the last row a page returned.
type Cursor struct {
	Value any
	ID    string
}

type cursorWire struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v"`
	ID    string          `json:"id"`
}

// CursorAfter builds the cursor that resumes q right after doc
func CursorAfter(q Query, doc *Document) *Cursor {
	v, _ := fieldValue(doc, q.orderField())
	return &Cursor{Value: v, ID: doc.ID}
}

// Encode renders the cursor as an opaque URL-safe token
func (c *Cursor) Encode() string {
	w := cursorWire{Kind: "json", ID: c.ID}
	v := c.Value
	if t, ok := v.(time.Time); ok {
		w.Kind = "time"
		v = t.UTC().Format(time.RFC3339Nano)
	}
	// Values come from decoded documents, so marshalling cannot fail
	w.Value, _ = json.Marshal(v)
	data, _ := json.Marshal(w)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode
func DecodeCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}

	c := &Cursor{ID: w.ID}
	switch w.Kind {
	case "time":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		c.Value = t
	case "json":
		if err := json.Unmarshal(w.Value, &c.Value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCursor, w.Kind)
	}
	return c, nil
}
