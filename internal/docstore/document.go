package docstore

import "time"

// Typed accessors. Each returns the zero value when the field is absent or
// holds an unexpected type; decoders decide whether that matters.

func (d *Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

func (d *Document) Bool(field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

func (d *Document) Int(field string) int64 {
	f, _ := d.Data[field].(float64)
	return int64(f)
}

func (d *Document) Time(field string) time.Time {
	s, ok := d.Data[field].(string)
	if !ok {
		return time.Time{}
	}
	t, _ := ParseTime(s)
	return t
}

// Strings reads a string array. ok is false when the field is missing or
// is not an array of strings.
func (d *Document) Strings(field string) (vals []string, ok bool) {
	return toStrings(d.Data[field])
}

// StringMap reads an object of string values, skipping other entries
func (d *Document) StringMap(field string) map[string]string {
	raw, _ := d.Data[field].(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// StringsMap reads an object whose values are string arrays
func (d *Document) StringsMap(field string) map[string][]string {
	raw, _ := d.Data[field].(map[string]any)
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		if vals, ok := toStrings(v); ok {
			out[k] = vals
		}
	}
	return out
}

// Objects reads an array of objects, skipping other entries
func (d *Document) Objects(field string) []map[string]any {
	raw, _ := d.Data[field].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toStrings(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
