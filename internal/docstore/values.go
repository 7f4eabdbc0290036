package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

type serverTimestamp struct{}
type deleteField struct{}
type increment struct{ n float64 }
type arrayUnion struct{ vals []any }
type arrayRemove struct{ vals []any }

var (
	// ServerTimestamp is replaced by the store's commit time
	ServerTimestamp any = serverTimestamp{}
	// DeleteField removes the field on update
	DeleteField any = deleteField{}
)

// Increment adds n to a numeric field (missing counts as zero)
func Increment(n int64) any { return increment{n: float64(n)} }

// ArrayUnion appends values not already present in an array field
func ArrayUnion(vals ...any) any { return arrayUnion{vals: vals} }

// ArrayRemove removes every occurrence of the values from an array field
func ArrayRemove(vals ...any) any { return arrayRemove{vals: vals} }

// normalize turns a Go value into its JSON shape (string, float64, bool,
// nil, []any, map[string]any) so both backends compare the same things.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x, nil
	case time.Time:
		return FormatTime(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode field value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode field value: %w", err)
	}
	return out, nil
}

// applyFields writes fields into data, resolving sentinels against now.
// Keys are applied in sorted order so results never depend on map order.
func applyFields(data map[string]any, fields Fields, now time.Time) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := applyField(data, splitPath(k), fields[k], now); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func applyField(data map[string]any, path []string, value any, now time.Time) error {
	parent := data
	for _, seg := range path[:len(path)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			if _, isDelete := value.(deleteField); isDelete {
				return nil
			}
			next = map[string]any{}
			parent[seg] = next
		}
		parent = next
	}
	leaf := path[len(path)-1]

	switch x := value.(type) {
	case deleteField:
		delete(parent, leaf)
	case serverTimestamp:
		parent[leaf] = FormatTime(now)
	case increment:
		cur, _ := parent[leaf].(float64)
		parent[leaf] = cur + x.n
	case arrayUnion:
		cur, _ := parent[leaf].([]any)
		out := append([]any(nil), cur...)
		for _, v := range x.vals {
			nv, err := normalize(v)
			if err != nil {
				return err
			}
			if !containsValue(out, nv) {
				out = append(out, nv)
			}
		}
		parent[leaf] = out
	case arrayRemove:
		cur, _ := parent[leaf].([]any)
		removals := make([]any, 0, len(x.vals))
		for _, v := range x.vals {
			nv, err := normalize(v)
			if err != nil {
				return err
			}
			removals = append(removals, nv)
		}
		out := make([]any, 0, len(cur))
		for _, v := range cur {
			if !containsValue(removals, v) {
				out = append(out, v)
			}
		}
		parent[leaf] = out
	default:
		nv, err := normalize(value)
		if err != nil {
			return err
		}
		parent[leaf] = nv
	}
	return nil
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// typeRank follows the JSONB ordering of Postgres so both backends sort
// mixed-type fields the same way.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	case time.Time:
		return 6
	default:
		return 7
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case bool:
		y := b.(bool)
		if x != y {
			if !x {
				return -1
			}
			return 1
		}
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

// fieldValue reads a filter/order field from a document
func fieldValue(doc *Document, field string) (any, bool) {
	switch field {
	case IDField:
		return doc.ID, true
	case CreateTimeField:
		return doc.CreateTime, true
	case UpdateTimeField:
		return doc.UpdateTime, true
	}
	v, ok := doc.Data[field]
	return v, ok
}

func normalizeFilterValue(field string, v any) (any, error) {
	switch field {
	case CreateTimeField, UpdateTimeField:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			if parsed, ok := ParseTime(t); ok {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("%w: %s needs a time value", ErrInvalidQuery, field)
	}
	return normalize(v)
}

func matches(doc *Document, f Filter) (bool, error) {
	want, err := normalizeFilterValue(f.Field, f.Value)
	if err != nil {
		return false, err
	}
	got, ok := fieldValue(doc, f.Field)
	if !ok {
		return false, nil
	}
	switch f.Op {
	case OpEq:
		return reflect.DeepEqual(got, want), nil
	case OpNe:
		return !reflect.DeepEqual(got, want), nil
	case OpArrayContains:
		list, ok := got.([]any)
		return ok && containsValue(list, want), nil
	}
	if typeRank(got) != typeRank(want) {
		return false, nil
	}
	c := compareValues(got, want)
	switch f.Op {
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	}
	return false, nil
}

// compareDocs orders two documents by the query's order field then id
func compareDocs(q Query, a, b *Document) int {
	field := q.orderField()
	av, _ := fieldValue(a, field)
	bv, _ := fieldValue(b, field)
	c := compareValues(av, bv)
	if c == 0 {
		c = compareValues(a.ID, b.ID)
	}
	if q.Desc {
		return -c
	}
	return c
}

// afterCursor reports whether doc sorts strictly after the cursor
func afterCursor(q Query, doc *Document, cur *Cursor) bool {
	field := q.orderField()
	v, _ := fieldValue(doc, field)
	c := compareValues(v, cur.Value)
	if c == 0 {
		c = compareValues(doc.ID, cur.ID)
	}
	if q.Desc {
		return c < 0
	}
	return c > 0
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneDoc(d *Document) *Document {
	out := *d
	out.Data = cloneValue(d.Data).(map[string]any)
	return &out
}
