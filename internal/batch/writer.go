// Package batch groups writes into atomic units that respect the store's
// per-commit ceiling. Units commit in order; atomicity holds only inside a
// unit, so a failure part way leaves earlier units durable.
package batch

import (
	"context"
	"fmt"

	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/metrics"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

// PartialFailure reports a commit that stopped after Committed of Units
// units were already durable.
type PartialFailure struct {
	Committed int
	Units     int
	Err       error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("batch committed %d of %d units: %v", e.Committed, e.Units, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

func (e *PartialFailure) SyncKind() syncerr.Kind { return syncerr.KindPartialBatch }

func (e *PartialFailure) Is(target error) bool {
	return target == syncerr.ErrPartialBatch
}

type Writer struct {
	store docstore.Store
	limit int
	units [][]docstore.Write
}

// New returns a writer sealing units at limit writes. A limit outside
// 1..docstore.MaxBatchWrites falls back to the maximum.
func New(store docstore.Store, limit int) *Writer {
	if limit <= 0 || limit > docstore.MaxBatchWrites {
		limit = docstore.MaxBatchWrites
	}
	return &Writer{store: store, limit: limit}
}

// Add appends a write, starting a new unit when the current one is full
func (w *Writer) Add(write docstore.Write) {
	n := len(w.units)
	if n == 0 || len(w.units[n-1]) >= w.limit {
		w.units = append(w.units, make([]docstore.Write, 0, min(w.limit, 16)))
		n++
	}
	w.units[n-1] = append(w.units[n-1], write)
}

func (w *Writer) Create(collection, id string, fields docstore.Fields) {
	w.Add(docstore.Create(collection, id, fields))
}

func (w *Writer) Set(collection, id string, fields docstore.Fields) {
	w.Add(docstore.Set(collection, id, fields))
}

func (w *Writer) Update(collection, id string, fields docstore.Fields) {
	w.Add(docstore.Update(collection, id, fields))
}

func (w *Writer) Delete(collection, id string) {
	w.Add(docstore.Delete(collection, id))
}

// OpCount is the number of writes in the unit currently being filled
func (w *Writer) OpCount() int {
	if len(w.units) == 0 {
		return 0
	}
	return len(w.units[len(w.units)-1])
}

func (w *Writer) UnitCount() int {
	return len(w.units)
}

func (w *Writer) TotalOps() int {
	total := 0
	for _, u := range w.units {
		total += len(u)
	}
	return total
}

// Commit sends every unit in order and resets the writer whatever the
// outcome. A failure of the first unit is a provider error; a later one
// is a *PartialFailure. Nothing is retried.
func (w *Writer) Commit(ctx context.Context) error {
	const op = "batch.Commit"

	units := w.units
	w.units = nil

	for i, unit := range units {
		if err := w.store.Commit(ctx, unit); err != nil {
			if i == 0 {
				return syncerr.Provider(op, err)
			}
			metrics.BatchPartialFailures.Inc()
			return &PartialFailure{Committed: i, Units: len(units), Err: err}
		}
		metrics.BatchUnitsCommitted.Inc()
	}
	return nil
}
