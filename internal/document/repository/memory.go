package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scielo/kernel/internal/document"
)

// MemoryRepo is an in-process Backend used for unit tests and local
// development. Records are copied on the way in and out so callers never
// alias stored state.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*document.Record
	blobs map[string]map[string]*blob
}

type blob struct {
	data     []byte
	revision int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		store: make(map[string]*document.Record),
		blobs: make(map[string]map[string]*blob),
	}
}

// Create overwrites any record already stored under id. The overwrite
// restarts Revision at 1 and drops the attachments, so revisions are only
// monotonic between two registrations of the same id.
func (m *MemoryRepo) Create(_ context.Context, id string, rec *document.Record) (*document.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(id, rec), nil
}

// Insert creates rec only when id is unused.
func (m *MemoryRepo) Insert(_ context.Context, id string, rec *document.Record) (*document.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; ok {
		return nil, fmt.Errorf("insert %q: %w", id, document.ErrAlreadyExists)
	}
	return m.create(id, rec), nil
}

func (m *MemoryRepo) create(id string, rec *document.Record) *document.Record {
	d := rec.Clone()
	d.ID = id
	d.Revision = 1
	m.store[id] = d
	delete(m.blobs, id)
	return d.Clone()
}

func (m *MemoryRepo) Read(_ context.Context, id string) (*document.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, fmt.Errorf("read %q: %w", id, document.ErrNotFound)
}

func (m *MemoryRepo) Update(_ context.Context, id string, rec *document.Record) (*document.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("update %q: %w", id, document.ErrNotFound)
	}
	if cur.Revision != rec.Revision {
		return nil, fmt.Errorf("update %q at revision %d (stored %d): %w", id, rec.Revision, cur.Revision, document.ErrUpdateConflict)
	}
	d := rec.Clone()
	d.ID = id
	d.Revision = cur.Revision + 1
	m.store[id] = d
	return d.Clone(), nil
}

func (m *MemoryRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return fmt.Errorf("delete %q: %w", id, document.ErrNotFound)
	}
	delete(m.store, id)
	delete(m.blobs, id)
	return nil
}

func (m *MemoryRepo) Find(_ context.Context, q Query) ([]*document.Record, error) {
	m.mu.RLock()
	out := make([]*document.Record, 0, len(m.store))
	for _, d := range m.store {
		if q.Filter.Match(d) {
			out = append(out, d.Clone())
		}
	}
	m.mu.RUnlock()

	// map iteration order is random; fix a base order so ties are stable
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	sortRecords(out, q.Sort)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		out[i] = project(out[i], q.Fields)
	}
	return out, nil
}

// PutAttachment stores content and advances the attachment revision. The
// parent record's attachment properties are left to the caller.
func (m *MemoryRepo) PutAttachment(_ context.Context, id, fileID string, content []byte, props document.AttachmentProperties) (document.AttachmentProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return document.AttachmentProperties{}, fmt.Errorf("put attachment %q/%q: %w", id, fileID, document.ErrNotFound)
	}
	files, ok := m.blobs[id]
	if !ok {
		files = make(map[string]*blob)
		m.blobs[id] = files
	}
	b, ok := files[fileID]
	if !ok {
		b = &blob{}
		files[fileID] = b
	}
	b.data = append([]byte(nil), content...)
	b.revision++
	props.ContentSize = int64(len(content))
	props.Revision = b.revision
	return props, nil
}

func (m *MemoryRepo) GetAttachment(_ context.Context, id, fileID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.store[id]; !ok {
		return nil, fmt.Errorf("get attachment %q/%q: %w", id, fileID, document.ErrNotFound)
	}
	b, ok := m.blobs[id][fileID]
	if !ok {
		return []byte{}, nil
	}
	return append([]byte{}, b.data...), nil
}

func (m *MemoryRepo) ListAttachments(_ context.Context, id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.store[id]; !ok {
		return nil, fmt.Errorf("list attachments %q: %w", id, document.ErrNotFound)
	}
	out := make([]string, 0, len(m.blobs[id]))
	for f := range m.blobs[id] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRepo) DropDatabase(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]*document.Record)
	m.blobs = make(map[string]map[string]*blob)
	return nil
}
