package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type tags the kind of payload a Record carries. The set is open: any
// non-empty value is accepted by the persistence layer.
type Type string

const (
	TypeArticle  Type = "ARTICLE"
	TypeAsset    Type = "ASSET"
	TypeIssue    Type = "ISSUE"
	TypeJournal  Type = "JOURNAL"
	TypeBundle   Type = "BUNDLE"
	TypeChange   Type = "CHANGE"
	TypeSequence Type = "SEQUENCE"
)

// Record is the unit of storage. Dates are decimal seconds since the epoch
// and are set by the persistence layer only. Revision starts at 1 and grows
// by one on every successful update.
type Record struct {
	ID          string                          `json:"id" bson:"_id"`
	Type        Type                            `json:"document_type" bson:"document_type"`
	Content     map[string]any                  `json:"content" bson:"content"`
	CreatedDate string                          `json:"created_date" bson:"created_date"`
	UpdatedDate *string                         `json:"updated_date,omitempty" bson:"updated_date,omitempty"`
	DeletedDate *string                         `json:"deleted_date,omitempty" bson:"deleted_date,omitempty"`
	Revision    int64                           `json:"revision" bson:"revision"`
	Attachments map[string]AttachmentProperties `json:"attachments_properties,omitempty" bson:"attachments,omitempty"`
}

// AttachmentProperties is the metadata kept next to the raw attachment bytes.
type AttachmentProperties struct {
	ContentType string `json:"content_type" bson:"content_type"`
	ContentSize int64  `json:"content_size" bson:"content_size"`
	Revision    int64  `json:"revision" bson:"revision"`
}

// Attachment is a binary blob owned by exactly one Record.
type Attachment struct {
	FileID     string
	Content    []byte
	Properties AttachmentProperties
}

// Clone returns a deep copy of r so callers never share maps with a backend.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Content = cloneMap(r.Content)
	if r.UpdatedDate != nil {
		v := *r.UpdatedDate
		out.UpdatedDate = &v
	}
	if r.DeletedDate != nil {
		v := *r.DeletedDate
		out.DeletedDate = &v
	}
	if r.Attachments != nil {
		out.Attachments = make(map[string]AttachmentProperties, len(r.Attachments))
		for k, v := range r.Attachments {
			out.Attachments[k] = v
		}
	}
	return &out
}

// AttachmentIDs returns the attachment file ids in lexical order.
func (r *Record) AttachmentIDs() []string {
	ids := make([]string, 0, len(r.Attachments))
	for id := range r.Attachments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Field resolves a record field by name. Record level names are the json
// names of Record; anything else, or a "content." prefixed path, is looked
// up inside Content using dots as separators.
func (r *Record) Field(name string) (any, bool) {
	switch name {
	case "id", "_id", "document_id":
		return r.ID, true
	case "document_type", "type":
		return string(r.Type), true
	case "created_date":
		return r.CreatedDate, true
	case "updated_date":
		if r.UpdatedDate == nil {
			return nil, false
		}
		return *r.UpdatedDate, true
	case "deleted_date":
		if r.DeletedDate == nil {
			return nil, false
		}
		return *r.DeletedDate, true
	case "revision":
		return r.Revision, true
	case "content":
		return r.Content, true
	}
	return lookup(r.Content, strings.TrimPrefix(name, "content."))
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	}
	return v
}

// Timestamp renders t as decimal seconds since the epoch with microsecond
// precision, the format used for every date the persistence layer stamps.
func Timestamp(t time.Time) string {
	us := t.UnixMicro()
	sec, frac := us/1e6, us%1e6
	if frac < 0 {
		sec--
		frac += 1e6
	}
	return fmt.Sprintf("%d.%06d", sec, frac)
}

// ParseTimestamp is the inverse of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	sec := int64(f)
	us := int64((f-float64(sec))*1e6 + 0.5)
	return time.Unix(sec, us*1000), nil
}

// View is the public read shape of a Record.
type View struct {
	*Record
	AttachmentList []string `json:"attachments,omitempty"`
}

// NewView reshapes r for callers, listing its attachments when any exist.
func NewView(r *Record) *View {
	v := &View{Record: r}
	if len(r.Attachments) > 0 {
		v.AttachmentList = r.AttachmentIDs()
	}
	return v
}
