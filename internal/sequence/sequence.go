// Package sequence mints strictly increasing integers, one counter per label.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/repository"
	"github.com/scielo/kernel/pkg/logger"
	"github.com/scielo/kernel/pkg/metrics"
)

// DefaultLabel names the counter that orders the change feed.
const DefaultLabel = "CHANGES_SEQ"

// Generator is a persisted counter. Next never returns the same value
// twice for a label, even to concurrent callers.
type Generator interface {
	// Get returns the current value, creating the counter at 0 if needed.
	Get(ctx context.Context) (int64, error)
	// Next increments the counter by exactly one and returns the new value.
	Next(ctx context.Context) (int64, error)
}

// BackendGenerator keeps its counter as a record of a repository.Backend and
// increments it with the backend's revision check as compare-and-swap.
type BackendGenerator struct {
	backend repository.Backend
	label   string
}

func NewBackendGenerator(b repository.Backend, label string) *BackendGenerator {
	if label == "" {
		label = DefaultLabel
	}
	return &BackendGenerator{backend: b, label: label}
}

func (g *BackendGenerator) Get(ctx context.Context) (int64, error) {
	rec, err := g.load(ctx)
	if err != nil {
		return 0, err
	}
	return value(rec), nil
}

// Next loops on revision conflicts: a lost compare-and-swap means another
// caller took the value, so the counter is re-read and tried again until
// ctx is done.
func (g *BackendGenerator) Next(ctx context.Context) (int64, error) {
	for {
		rec, err := g.load(ctx)
		if err != nil {
			return 0, err
		}
		n := value(rec) + 1
		rec.Content = map[string]any{"value": n}
		_, err = g.backend.Update(ctx, g.label, rec)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, document.ErrUpdateConflict) {
			return 0, fmt.Errorf("sequence %s: %w", g.label, err)
		}
		metrics.SequenceConflicts.WithLabelValues(g.label).Inc()
		logger.Debugf("sequence %s: lost race at %d, retrying", g.label, n)
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("sequence %s: %w", g.label, err)
		}
	}
}

func (g *BackendGenerator) load(ctx context.Context) (*document.Record, error) {
	rec, err := g.backend.Read(ctx, g.label)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, document.ErrNotFound) {
		return nil, fmt.Errorf("sequence %s: %w", g.label, err)
	}
	initial := &document.Record{Type: document.TypeSequence, Content: map[string]any{"value": int64(0)}}
	if ins, ok := g.backend.(repository.Inserter); ok {
		rec, err = ins.Insert(ctx, g.label, initial)
	} else {
		rec, err = g.backend.Create(ctx, g.label, initial)
	}
	if err == nil {
		logger.Infof("sequence %s: initialised", g.label)
		return rec, nil
	}
	if errors.Is(err, document.ErrAlreadyExists) {
		// someone else initialised it first
		rec, err = g.backend.Read(ctx, g.label)
		if err == nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("sequence %s: %w", g.label, err)
}

func value(rec *document.Record) int64 {
	n, _ := document.ToInt64(rec.Content["value"])
	return n
}
