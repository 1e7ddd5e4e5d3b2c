// Package changes keeps the append-only, sequence-numbered feed of document
// mutations that external consumers poll to synchronise.
package changes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/repository"
	"github.com/scielo/kernel/internal/sequence"
	"github.com/scielo/kernel/pkg/logger"
	"github.com/scielo/kernel/pkg/metrics"
)

// Service appends change records to their own backend collection, keyed by
// the sequence number minted for them.
type Service struct {
	backend repository.Backend
	seq     sequence.Generator
	now     func() time.Time
}

func NewService(b repository.Backend, seq sequence.Generator) *Service {
	return &Service{backend: b, seq: seq, now: time.Now}
}

// RegisterChange mints the next sequence number and stores a change for rec
// under it. Change ids are never reused: the key is fresh for every minted
// number, so the insert only fails if the store itself does.
func (s *Service) RegisterChange(ctx context.Context, rec *document.Record, t document.ChangeType, attachmentID *string) (int64, error) {
	id, err := s.seq.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("register change for %q: %w", rec.ID, err)
	}
	c := &document.Change{
		ChangeID:     id,
		DocumentID:   rec.ID,
		DocumentType: rec.Type,
		Type:         t,
		CreatedDate:  document.Timestamp(s.now()),
		AttachmentID: attachmentID,
	}
	if _, err := s.backend.Create(ctx, document.ChangeKey(id), c.Record()); err != nil {
		return 0, fmt.Errorf("register change %d for %q: %w", id, rec.ID, err)
	}
	metrics.ChangesRegistered.WithLabelValues(t.String()).Inc()
	logger.Debugf("change %d: %s %s", id, t, rec.ID)
	return id, nil
}

// ListChanges returns the changes with change_id greater than since, in
// ascending order, at most limit of them (0 means all). An empty since
// starts from the beginning of the feed.
func (s *Service) ListChanges(ctx context.Context, since string, limit int) ([]document.Change, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", document.ErrInvalidContent, limit)
	}
	q := repository.Query{
		Filter: repository.Filter{"document_type": repository.Eq(document.TypeChange)},
		Sort:   []repository.SortField{{Field: "change_id"}},
		Limit:  limit,
	}
	if since = strings.TrimSpace(since); since != "" {
		n, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: since %q is not a sequence number", document.ErrInvalidContent, since)
		}
		q.Filter["change_id"] = repository.Range(repository.Op{Operator: repository.OpGT, Value: n})
	}
	recs, err := s.backend.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	out := make([]document.Change, 0, len(recs))
	for _, r := range recs {
		c, err := document.ChangeFromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}
