// Package docstore is the remote document store the sync engine sits on.
//
// Documents are addressed by (collection, id) and hold JSON-shaped data.
// The store offers point reads, ordered queries with cursors, atomic write
// batches capped at MaxBatchWrites, and a watch primitive that pushes a full
// ordered snapshot on every change. Two implementations exist: Postgres
// (JSONB rows, LISTEN/NOTIFY for pushes) and Memory (tests, local runs).
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBatchWrites is the hard ceiling of writes in one atomic unit
const MaxBatchWrites = 500

// Pseudo fields usable in filters and ordering
const (
	IDField         = "__id"
	CreateTimeField = "__createTime"
	UpdateTimeField = "__updateTime"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrBatchTooLarge = errors.New("batch exceeds write limit")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidQuery  = errors.New("invalid query")
)

// Store is the contract every backend implements
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)
	// Commit applies writes as one all-or-nothing unit
	Commit(ctx context.Context, writes []Write) error
	// Watch delivers the query result now and after every change to the
	// collection. A Snapshot with Err set is the last one sent. The
	// channel is closed when ctx is done.
	Watch(ctx context.Context, q Query) (<-chan Snapshot, error)
}

// Document is a stored record with server-assigned timestamps
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// Snapshot is one push from a watch
type Snapshot struct {
	Docs []*Document
	Err  error
}

type Op string

const (
	OpEq            Op = "=="
	OpNe            Op = "!="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string // defaults to IDField
	Desc       bool
	Limit      int // 0 means no limit
	StartAfter *Cursor
}

// Where returns a copy of q with an extra filter
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) orderField() string {
	if q.OrderBy == "" {
		return IDField
	}
	return q.OrderBy
}

func (q Query) validate() error {
	if q.Collection == "" {
		return errors.Join(ErrInvalidQuery, errors.New("collection is required"))
	}
	if q.Limit < 0 {
		return errors.Join(ErrInvalidQuery, errors.New("limit must not be negative"))
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpArrayContains:
		default:
			return errors.Join(ErrInvalidQuery, errors.New("unsupported operator "+string(f.Op)))
		}
		if f.Field == "" {
			return errors.Join(ErrInvalidQuery, errors.New("filter field is required"))
		}
	}
	return nil
}

type WriteKind uint8

const (
	WriteCreate WriteKind = iota + 1
	WriteSet
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Fields maps field paths to values. A key built with Path addresses a
// nested field; values may be any JSON-encodable value or one of the
// sentinels (ServerTimestamp, DeleteField, Increment, ArrayUnion,
// ArrayRemove).
type Fields map[string]any

// Write is one mutation inside a Commit
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     Fields
}

func Create(collection, id string, fields Fields) Write {
	return Write{Kind: WriteCreate, Collection: collection, ID: id, Fields: fields}
}

func Set(collection, id string, fields Fields) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Fields: fields}
}

func Update(collection, id string, fields Fields) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Fields: fields}
}

func Delete(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

func validateWrites(writes []Write) error {
	if len(writes) > MaxBatchWrites {
		return ErrBatchTooLarge
	}
	for _, w := range writes {
		if w.Collection == "" || w.ID == "" {
			return errors.Join(ErrInvalidQuery, errors.New("write needs collection and id"))
		}
		if w.Kind < WriteCreate || w.Kind > WriteDelete {
			return errors.Join(ErrInvalidQuery, errors.New("unknown write kind"))
		}
	}
	return nil
}

// NewID returns a fresh document id
func NewID() string {
	return uuid.NewString()
}

// pathSep separates nested path segments. It is a control character so
// ids containing dots or slashes can be used as map keys.
const pathSep = "\x1f"

// Path builds a nested field path, e.g. Path("typingUsers", actorID)
func Path(parts ...string) string {
	return strings.Join(parts, pathSep)
}

func splitPath(p string) []string {
	return strings.Split(p, pathSep)
}

// timeLayout is fixed width so stored timestamps sort as strings
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t the way timestamps are stored inside documents
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a timestamp written by FormatTime (or any RFC 3339 value)
func ParseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
