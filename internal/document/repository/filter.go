package repository

import (
	"reflect"
	"sort"
	"strings"

	"github.com/scielo/kernel/internal/document"
)

// Match reports whether rec satisfies every condition of f.
func (f Filter) Match(rec *document.Record) bool {
	for field, cond := range f {
		v, ok := rec.Field(field)
		if !cond.match(v, ok) {
			return false
		}
	}
	return true
}

func (c Condition) match(v any, present bool) bool {
	if len(c.Ops) == 0 {
		return present && equal(v, c.Equals)
	}
	for _, op := range c.Ops {
		if op.Operator == OpNE {
			if present && equal(v, op.Value) {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		cmp, ok := compare(v, op.Value)
		if !ok {
			return false
		}
		switch op.Operator {
		case OpGT:
			ok = cmp > 0
		case OpGTE:
			ok = cmp >= 0
		case OpLT:
			ok = cmp < 0
		case OpLTE:
			ok = cmp <= 0
		default:
			ok = false
		}
		if !ok {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalars of the same kind. Numbers compare across
// integer and float representations.
func compare(a, b any) (int, bool) {
	a, b = scalar(a), scalar(b)
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func scalar(v any) any {
	if t, ok := v.(document.Type); ok {
		return string(t)
	}
	return v
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// sortRecords orders recs in place by fields; ties keep their input order.
// Missing values sort before present ones.
func sortRecords(recs []*document.Record, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, sf := range fields {
			a, aok := recs[i].Field(sf.Field)
			b, bok := recs[j].Field(sf.Field)
			var cmp int
			switch {
			case !aok && !bok:
				continue
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				c, ok := compare(a, b)
				if !ok {
					continue
				}
				cmp = c
			}
			if cmp == 0 {
				continue
			}
			if sf.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// project keeps only the named fields of rec. Id, type and revision are
// always kept so a projected record can still be addressed and updated.
func project(rec *document.Record, fields []string) *document.Record {
	if len(fields) == 0 {
		return rec
	}
	out := &document.Record{ID: rec.ID, Type: rec.Type, Revision: rec.Revision}
	for _, f := range fields {
		switch f {
		case "id", "_id", "document_id", "document_type", "type", "revision":
		case "created_date":
			out.CreatedDate = rec.CreatedDate
		case "updated_date":
			out.UpdatedDate = rec.UpdatedDate
		case "deleted_date":
			out.DeletedDate = rec.DeletedDate
		case "attachments_properties":
			out.Attachments = rec.Attachments
		case "content":
			out.Content = rec.Content
		default:
			v, ok := rec.Field(f)
			if !ok {
				continue
			}
			if out.Content == nil {
				out.Content = map[string]any{}
			}
			setPath(out.Content, strings.TrimPrefix(f, "content."), v)
		}
	}
	return out
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}
