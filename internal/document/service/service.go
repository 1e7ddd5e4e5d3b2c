package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/repository"
	"github.com/scielo/kernel/pkg/logger"
	"github.com/scielo/kernel/pkg/metrics"
)

// Service defines the document operations used by the handler layer.
// Mutations are persisted first and only then recorded in the change feed.
type Service interface {
	Register(ctx context.Context, id string, rec *document.Record) (*document.Record, int64, error)
	Read(ctx context.Context, id string) (*document.View, error)
	Update(ctx context.Context, id string, rec *document.Record) (*document.Record, int64, error)
	Delete(ctx context.Context, id string, rec *document.Record) (*document.Record, int64, error)
	Find(ctx context.Context, filter repository.Filter, fields []string, sort []repository.SortField) ([]*document.Record, error)
	PutAttachment(ctx context.Context, id, fileID string, content []byte, contentType string) (document.AttachmentProperties, int64, error)
	GetAttachment(ctx context.Context, id, fileID string) ([]byte, error)
	GetAttachmentProperties(ctx context.Context, id, fileID string) (document.AttachmentProperties, error)
	ListAttachments(ctx context.Context, id string) ([]string, error)
	ListChanges(ctx context.Context, since string, limit int) ([]document.Change, error)
}

// ChangeLog is the part of the change feed the service writes and reads.
type ChangeLog interface {
	RegisterChange(ctx context.Context, rec *document.Record, t document.ChangeType, attachmentID *string) (int64, error)
	ListChanges(ctx context.Context, since string, limit int) ([]document.Change, error)
}

// DocumentService implements Service on a repository.Backend and a ChangeLog.
type DocumentService struct {
	backend repository.Backend
	changes ChangeLog
	now     func() time.Time
}

// Option configures a DocumentService.
type Option func(*DocumentService)

// WithClock replaces time.Now for date stamping.
func WithClock(now func() time.Time) Option {
	return func(s *DocumentService) { s.now = now }
}

func New(b repository.Backend, changes ChangeLog, opts ...Option) *DocumentService {
	s := &DocumentService{backend: b, changes: changes, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ Service = (*DocumentService)(nil)

// Register stores a new document, generating an id when id is empty.
// Caller supplied dates and revision are ignored.
func (s *DocumentService) Register(ctx context.Context, id string, rec *document.Record) (out *document.Record, change int64, err error) {
	defer func() { observe("register", err) }()
	if rec == nil || strings.TrimSpace(string(rec.Type)) == "" {
		return nil, 0, fmt.Errorf("register: %w: document type is required", document.ErrInvalidContent)
	}
	if id == "" {
		id = uuid.NewString()
	}
	d := rec.Clone()
	d.ID = id
	d.CreatedDate = document.Timestamp(s.now())
	d.UpdatedDate, d.DeletedDate, d.Attachments = nil, nil, nil
	if d.Content == nil {
		d.Content = map[string]any{}
	}

	stored, err := s.backend.Create(ctx, id, d)
	if err != nil {
		return nil, 0, fmt.Errorf("register %q: %w", id, err)
	}
	change, err = s.changes.RegisterChange(ctx, stored, document.ChangeCreate, nil)
	if err != nil {
		logger.Errorf("registered %s %q but change feed append failed: %v", stored.Type, id, err)
		return stored, 0, err
	}
	logger.Infof("registered %s %q (change %d)", stored.Type, id, change)
	return stored, change, nil
}

func (s *DocumentService) Read(ctx context.Context, id string) (v *document.View, err error) {
	defer func() { observe("read", err) }()
	rec, err := s.backend.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return document.NewView(rec), nil
}

// Update replaces the content of id. rec.Revision must be the revision the
// caller read; a stale one fails with document.ErrUpdateConflict and the
// caller has to re-read.
func (s *DocumentService) Update(ctx context.Context, id string, rec *document.Record) (out *document.Record, change int64, err error) {
	defer func() { observe("update", err) }()
	if rec == nil {
		return nil, 0, fmt.Errorf("update %q: %w: empty record", id, document.ErrInvalidContent)
	}
	cur, err := s.live(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	d := rec.Clone()
	d.ID = id
	if d.Type == "" {
		d.Type = cur.Type
	}
	if d.Content == nil {
		d.Content = map[string]any{}
	}
	d.CreatedDate = cur.CreatedDate
	d.DeletedDate = nil
	d.Attachments = cur.Attachments
	stamp := s.stampAfter(cur)
	d.UpdatedDate = &stamp
	return s.commit(ctx, id, d, document.ChangeUpdate, nil)
}

// Delete tombstones id: the record stays readable with deleted_date set.
// A stale revision fails with document.ErrDeleteFailed.
func (s *DocumentService) Delete(ctx context.Context, id string, rec *document.Record) (out *document.Record, change int64, err error) {
	defer func() { observe("delete", err) }()
	if rec == nil {
		return nil, 0, fmt.Errorf("delete %q: %w: empty record", id, document.ErrInvalidContent)
	}
	cur, err := s.live(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	d := cur.Clone()
	d.Revision = rec.Revision
	stamp := s.stampAfter(cur)
	d.DeletedDate = &stamp
	out, change, err = s.commit(ctx, id, d, document.ChangeDelete, nil)
	if errors.Is(err, document.ErrUpdateConflict) {
		return nil, 0, fmt.Errorf("delete %q at revision %d: %w", id, rec.Revision, document.ErrDeleteFailed)
	}
	return out, change, err
}

// Find passes the query through to the backend without a limit.
func (s *DocumentService) Find(ctx context.Context, filter repository.Filter, fields []string, sort []repository.SortField) (out []*document.Record, err error) {
	defer func() { observe("find", err) }()
	return s.backend.Find(ctx, repository.Query{Filter: filter, Fields: fields, Sort: sort})
}

// PutAttachment stores content under fileID and then refreshes the parent's
// attachment properties through the update path, so every attachment write
// shows up in the change feed. The bytes are already stored once the refresh
// starts, so a concurrent update of the parent makes it re-read and try
// again instead of failing.
func (s *DocumentService) PutAttachment(ctx context.Context, id, fileID string, content []byte, contentType string) (props document.AttachmentProperties, change int64, err error) {
	defer func() { observe("put_attachment", err) }()
	if strings.TrimSpace(fileID) == "" {
		return props, 0, fmt.Errorf("put attachment %q: %w: empty file id", id, document.ErrInvalidContent)
	}
	cur, err := s.live(ctx, id)
	if err != nil {
		return props, 0, err
	}
	props, err = s.backend.PutAttachment(ctx, id, fileID, content, document.AttachmentProperties{ContentType: contentType})
	if err != nil {
		return props, 0, err
	}
	for {
		d := cur.Clone()
		if d.Attachments == nil {
			d.Attachments = make(map[string]document.AttachmentProperties)
		}
		// a concurrent put of the same file may already have recorded a newer revision
		if prev, ok := d.Attachments[fileID]; !ok || prev.Revision <= props.Revision {
			d.Attachments[fileID] = props
		}
		stamp := s.stampAfter(cur)
		d.UpdatedDate = &stamp
		_, change, err = s.commit(ctx, id, d, document.ChangeUpdate, &fileID)
		if !errors.Is(err, document.ErrUpdateConflict) {
			return props, change, err
		}
		logger.Debugf("attachment %q/%q: parent moved past revision %d, refreshing again", id, fileID, cur.Revision)
		if cerr := ctx.Err(); cerr != nil {
			return props, 0, cerr
		}
		if cur, err = s.live(ctx, id); err != nil {
			return props, 0, err
		}
	}
}

// GetAttachment returns an empty slice for an unknown fileID of an existing
// document, and document.ErrNotFound for an unknown document.
func (s *DocumentService) GetAttachment(ctx context.Context, id, fileID string) (b []byte, err error) {
	defer func() { observe("get_attachment", err) }()
	return s.backend.GetAttachment(ctx, id, fileID)
}

func (s *DocumentService) GetAttachmentProperties(ctx context.Context, id, fileID string) (p document.AttachmentProperties, err error) {
	defer func() { observe("get_attachment_properties", err) }()
	rec, err := s.backend.Read(ctx, id)
	if err != nil {
		return p, err
	}
	p, ok := rec.Attachments[fileID]
	if !ok {
		return p, fmt.Errorf("attachment %q/%q: %w", id, fileID, document.ErrNotFound)
	}
	return p, nil
}

func (s *DocumentService) ListAttachments(ctx context.Context, id string) (out []string, err error) {
	defer func() { observe("list_attachments", err) }()
	return s.backend.ListAttachments(ctx, id)
}

func (s *DocumentService) ListChanges(ctx context.Context, since string, limit int) (out []document.Change, err error) {
	defer func() { observe("list_changes", err) }()
	return s.changes.ListChanges(ctx, since, limit)
}

// live reads id and rejects tombstoned documents: they stay readable but
// are no longer mutable.
func (s *DocumentService) live(ctx context.Context, id string) (*document.Record, error) {
	cur, err := s.backend.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.DeletedDate != nil {
		return nil, fmt.Errorf("%q was deleted at %s: %w", id, *cur.DeletedDate, document.ErrNotFound)
	}
	return cur, nil
}

func (s *DocumentService) commit(ctx context.Context, id string, d *document.Record, t document.ChangeType, attachmentID *string) (*document.Record, int64, error) {
	stored, err := s.backend.Update(ctx, id, d)
	if err != nil {
		return nil, 0, err
	}
	change, err := s.changes.RegisterChange(ctx, stored, t, attachmentID)
	if err != nil {
		logger.Errorf("%s %q stored at revision %d but change feed append failed: %v", t, id, stored.Revision, err)
		return stored, 0, err
	}
	logger.Debugf("%s %q revision %d (change %d)", t, id, stored.Revision, change)
	return stored, change, nil
}

// stampAfter returns the current time as a timestamp strictly later than
// every date already on cur. Timestamps carry microseconds, so the
// comparison happens at that precision.
func (s *DocumentService) stampAfter(cur *document.Record) string {
	now := s.now().Truncate(time.Microsecond)
	dates := []string{cur.CreatedDate}
	if cur.UpdatedDate != nil {
		dates = append(dates, *cur.UpdatedDate)
	}
	for _, d := range dates {
		if prev, err := document.ParseTimestamp(d); err == nil && !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
	}
	return document.Timestamp(now)
}

func observe(op string, err error) {
	metrics.DocumentOperations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, document.ErrNotFound):
		return "not_found"
	case errors.Is(err, document.ErrUpdateConflict):
		return "conflict"
	case errors.Is(err, document.ErrAlreadyExists):
		return "exists"
	case errors.Is(err, document.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, document.ErrInvalidContent):
		return "invalid"
	}
	return "error"
}
