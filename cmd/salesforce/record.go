package salesforce

import (
	"fmt"
	"strings"
)

// Record is one row of a query result. Relationship fields are nested
// records, e.g. {"ContentDocument": {"Title": "..."}}.
type Record map[string]any

// Value walks a dotted path such as "LinkedEntity.Name"
func (r Record) Value(path string) (any, bool) {
	var current any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			if rec, isRec := current.(Record); isRec {
				m = rec
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// String returns the value at path as a string, or "" when it is absent or null
func (r Record) String(path string) string {
	v, ok := r.Value(path)
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return s
	}
	return fmt.Sprintf("%v", v)
}
