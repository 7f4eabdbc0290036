package docstore

import (
	"context"
	"time"

	"github.com/rx3lixir/mapchat/internal/metrics"
)

// Instrumented records the latency of every call on the wrapped store
type Instrumented struct {
	Store
}

func Instrument(s Store) *Instrumented {
	return &Instrumented{s}
}

func observe(op string, start time.Time) {
	metrics.DocstoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Instrumented) Get(ctx context.Context, collection, id string) (*Document, error) {
	defer observe("get", time.Now())
	return s.Store.Get(ctx, collection, id)
}

func (s *Instrumented) Query(ctx context.Context, q Query) ([]*Document, error) {
	defer observe("query", time.Now())
	return s.Store.Query(ctx, q)
}

func (s *Instrumented) Commit(ctx context.Context, writes []Write) error {
	defer observe("commit", time.Now())
	return s.Store.Commit(ctx, writes)
}

// Watch only times the setup; the stream itself is long lived
func (s *Instrumented) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	defer observe("watch", time.Now())
	return s.Store.Watch(ctx, q)
}
