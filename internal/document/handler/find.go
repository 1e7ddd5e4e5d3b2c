package handler

import (
	"fmt"
	"strings"

	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/repository"
)

// findRequest is a Mango style query:
//
//	{"selector": {"document_type": "ARTICLE", "content.year": {"$gte": 2000}},
//	 "fields": ["id", "content.title"],
//	 "sort": [{"created_date": "desc"}, "id"],
//	 "limit": 10}
type findRequest struct {
	Selector map[string]any `json:"selector"`
	Fields   []string       `json:"fields"`
	Sort     []any          `json:"sort"`
	Limit    int            `json:"limit"`
}

var selectorOperators = map[string]repository.Operator{
	"$gt":  repository.OpGT,
	"$gte": repository.OpGTE,
	"$lt":  repository.OpLT,
	"$lte": repository.OpLTE,
	"$ne":  repository.OpNE,
}

func (r findRequest) query() (repository.Query, error) {
	q := repository.Query{Fields: r.Fields, Limit: r.Limit}
	if r.Limit < 0 {
		return q, fmt.Errorf("%w: negative limit", document.ErrInvalidContent)
	}
	filter, err := parseSelector(r.Selector)
	if err != nil {
		return q, err
	}
	q.Filter = filter
	for _, s := range r.Sort {
		f, err := parseSortField(s)
		if err != nil {
			return q, err
		}
		q.Sort = append(q.Sort, f)
	}
	return q, nil
}

func parseSelector(sel map[string]any) (repository.Filter, error) {
	filter := make(repository.Filter, len(sel))
	for field, v := range sel {
		ops, ok := v.(map[string]any)
		if !ok || !isOperatorMap(ops) {
			filter[field] = repository.Eq(v)
			continue
		}
		if eq, ok := ops["$eq"]; ok {
			if len(ops) > 1 {
				return nil, fmt.Errorf("%w: %s: $eq cannot be combined with other operators", document.ErrInvalidContent, field)
			}
			filter[field] = repository.Eq(eq)
			continue
		}
		var cond []repository.Op
		for name, operand := range ops {
			op, ok := selectorOperators[name]
			if !ok {
				parsed, err := repository.ParseOperator(name)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", field, err)
				}
				op = parsed
			}
			cond = append(cond, repository.Op{Operator: op, Value: operand})
		}
		filter[field] = repository.Range(cond...)
	}
	return filter, nil
}

// isOperatorMap reports whether every key of m looks like an operator, so
// that plain nested objects are still matched by equality.
func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") && !isSymbolicOperator(k) {
			return false
		}
	}
	return true
}

func isSymbolicOperator(s string) bool {
	_, err := repository.ParseOperator(s)
	return err == nil
}

func parseSortField(v any) (repository.SortField, error) {
	switch s := v.(type) {
	case string:
		if strings.HasPrefix(s, "-") {
			return repository.SortField{Field: s[1:], Desc: true}, nil
		}
		return repository.SortField{Field: s}, nil
	case map[string]any:
		if len(s) == 1 {
			for field, dir := range s {
				switch strings.ToLower(fmt.Sprint(dir)) {
				case "asc":
					return repository.SortField{Field: field}, nil
				case "desc":
					return repository.SortField{Field: field, Desc: true}, nil
				}
			}
		}
	}
	return repository.SortField{}, fmt.Errorf("%w: invalid sort entry %v", document.ErrInvalidContent, v)
}
