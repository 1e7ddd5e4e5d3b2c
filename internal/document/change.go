package document

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChangeType is the kind of mutation a Change records.
type ChangeType int

const (
	ChangeCreate ChangeType = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangeCreate:
		return "CREATE"
	case ChangeUpdate:
		return "UPDATE"
	case ChangeDelete:
		return "DELETE"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// ParseChangeType accepts the symbolic name (any case) or the numeric value.
func ParseChangeType(s string) (ChangeType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATE", "1":
		return ChangeCreate, nil
	case "UPDATE", "2":
		return ChangeUpdate, nil
	case "DELETE", "3":
		return ChangeDelete, nil
	}
	return 0, fmt.Errorf("%w: unknown change type %q", ErrInvalidContent, s)
}

func (t ChangeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ChangeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		s = strconv.Itoa(n)
	}
	v, err := ParseChangeType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Change is an append-only feed entry describing one mutation.
type Change struct {
	ChangeID     int64      `json:"change_id"`
	DocumentID   string     `json:"document_id"`
	DocumentType Type       `json:"document_type"`
	Type         ChangeType `json:"type"`
	CreatedDate  string     `json:"created_date"`
	AttachmentID *string    `json:"attachment_id,omitempty"`
}

// ChangeKey is the storage id of the change with the given sequence number.
func ChangeKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Record converts c into the backend record stored in the changes collection.
func (c *Change) Record() *Record {
	content := map[string]any{
		"change_id":     c.ChangeID,
		"document_id":   c.DocumentID,
		"document_type": string(c.DocumentType),
		"type":          int64(c.Type),
	}
	if c.AttachmentID != nil {
		content["attachment_id"] = *c.AttachmentID
	}
	return &Record{
		ID:          ChangeKey(c.ChangeID),
		Type:        TypeChange,
		Content:     content,
		CreatedDate: c.CreatedDate,
	}
}

// ChangeFromRecord is the inverse of Change.Record.
func ChangeFromRecord(r *Record) (*Change, error) {
	id, ok := toInt64(r.Content["change_id"])
	if !ok {
		return nil, fmt.Errorf("%w: change %q has no change_id", ErrInvalidContent, r.ID)
	}
	t, ok := toInt64(r.Content["type"])
	if !ok {
		return nil, fmt.Errorf("%w: change %q has no type", ErrInvalidContent, r.ID)
	}
	c := &Change{
		ChangeID:    id,
		Type:        ChangeType(t),
		CreatedDate: r.CreatedDate,
	}
	c.DocumentID, _ = r.Content["document_id"].(string)
	dt, _ := r.Content["document_type"].(string)
	c.DocumentType = Type(dt)
	if a, ok := r.Content["attachment_id"].(string); ok {
		c.AttachmentID = &a
	}
	return c, nil
}

// ToInt64 normalises the numeric types produced by the memory backend, JSON
// and BSON decoding.
func ToInt64(v any) (int64, bool) { return toInt64(v) }

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
