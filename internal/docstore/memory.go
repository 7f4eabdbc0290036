package docstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store. Commits are atomic under one lock and
// watchers are re-evaluated after every commit touching their collection.
type Memory struct {
	mu       sync.RWMutex
	colls    map[string]map[string]*Document
	watchers map[*memWatcher]struct{}
	clock    func() time.Time
	last     time.Time
}

type memWatcher struct {
	collection string
	signal     chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		colls:    make(map[string]map[string]*Document),
		watchers: make(map[*memWatcher]struct{}),
		clock:    time.Now,
	}
}

// now returns a strictly increasing commit time. Callers hold mu.
func (m *Memory) now() time.Time {
	t := m.clock().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.colls[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Document
	for _, doc := range m.colls[q.Collection] {
		ok := true
		for _, f := range q.Filters {
			matched, err := matches(doc, f)
			if err != nil {
				return nil, err
			}
			if !matched {
				ok = false
				break
			}
		}
		if ok && q.StartAfter != nil && !afterCursor(q, doc, q.StartAfter) {
			ok = false
		}
		if ok {
			out = append(out, doc)
		}
	}

	slices.SortFunc(out, func(a, b *Document) int { return compareDocs(q, a, b) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i, doc := range out {
		out[i] = cloneDoc(doc)
	}
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	m.mu.Lock()
	now := m.now()

	type key struct{ coll, id string }
	// staged holds the post-commit state of every touched doc; nil = deleted
	staged := make(map[key]*Document)
	current := func(k key) *Document {
		if d, ok := staged[k]; ok {
			return d
		}
		return m.colls[k.coll][k.id]
	}

	for _, w := range writes {
		k := key{w.Collection, w.ID}
		existing := current(k)

		switch w.Kind {
		case WriteCreate:
			if existing != nil {
				m.mu.Unlock()
				return fmt.Errorf("create %s/%s: %w", w.Collection, w.ID, ErrAlreadyExists)
			}
			doc := &Document{Collection: w.Collection, ID: w.ID, Data: map[string]any{}, CreateTime: now, UpdateTime: now}
			if err := applyFields(doc.Data, w.Fields, now); err != nil {
				m.mu.Unlock()
				return err
			}
			staged[k] = doc

		case WriteSet:
			doc := &Document{Collection: w.Collection, ID: w.ID, Data: map[string]any{}, CreateTime: now, UpdateTime: now}
			if existing != nil {
				doc.CreateTime = existing.CreateTime
			}
			if err := applyFields(doc.Data, w.Fields, now); err != nil {
				m.mu.Unlock()
				return err
			}
			staged[k] = doc

		case WriteUpdate:
			if existing == nil {
				m.mu.Unlock()
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, ErrNotFound)
			}
			doc := cloneDoc(existing)
			doc.UpdateTime = now
			if err := applyFields(doc.Data, w.Fields, now); err != nil {
				m.mu.Unlock()
				return err
			}
			staged[k] = doc

		case WriteDelete:
			staged[k] = nil
		}
	}

	touched := make(map[string]struct{})
	for k, doc := range staged {
		touched[k.coll] = struct{}{}
		if doc == nil {
			delete(m.colls[k.coll], k.id)
			continue
		}
		if m.colls[k.coll] == nil {
			m.colls[k.coll] = make(map[string]*Document)
		}
		m.colls[k.coll][k.id] = doc
	}
	for w := range m.watchers {
		if _, ok := touched[w.collection]; ok {
			select {
			case w.signal <- struct{}{}:
			default:
			}
		}
	}
	m.mu.Unlock()

	return nil
}

func (m *Memory) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	w := &memWatcher{collection: q.Collection, signal: make(chan struct{}, 1)}
	w.signal <- struct{}{}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}

			docs, err := m.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Snapshot{Docs: docs, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	return out, nil
}

// Len reports how many documents a collection holds
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.colls[collection])
}
