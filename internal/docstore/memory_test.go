package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Memory, coll string, docs map[string]Fields) {
	t.Helper()
	writes := make([]Write, 0, len(docs))
	for id, f := range docs {
		writes = append(writes, Create(coll, id, f))
	}
	require.NoError(t, s.Commit(context.Background(), writes))
}

func ids(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestMemoryCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Commit(ctx, []Write{Create("rooms", "r1", Fields{"name": "general", "count": 3})}))

	doc, err := s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)
	assert.Equal(t, "general", doc.String("name"))
	assert.Equal(t, int64(3), doc.Int("count"))
	assert.False(t, doc.CreateTime.IsZero())
	assert.Equal(t, doc.CreateTime, doc.UpdateTime)

	// returned documents are copies
	doc.Data["name"] = "mutated"
	again, err := s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)
	assert.Equal(t, "general", again.String("name"))

	_, err = s.Get(ctx, "rooms", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateExistingFailsAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s, "rooms", map[string]Fields{"r1": {"name": "a"}})

	err := s.Commit(ctx, []Write{
		Create("rooms", "r2", Fields{"name": "b"}),
		Create("rooms", "r1", Fields{"name": "dup"}),
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Get(ctx, "rooms", "r2")
	assert.ErrorIs(t, err, ErrNotFound, "no write of a failed commit is visible")
	assert.Equal(t, 1, s.Len("rooms"))
}

func TestMemoryUpdateMissing(t *testing.T) {
	err := NewMemory().Commit(context.Background(), []Write{Update("rooms", "nope", Fields{"a": 1})})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetKeepsCreateTime(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s, "rooms", map[string]Fields{"r1": {"name": "a", "extra": true}})
	before, err := s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, []Write{Set("rooms", "r1", Fields{"name": "b"})}))

	after, err := s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)
	assert.Equal(t, before.CreateTime, after.CreateTime)
	assert.True(t, after.UpdateTime.After(before.UpdateTime))
	assert.Equal(t, "b", after.String("name"))
	_, ok := after.Data["extra"]
	assert.False(t, ok, "set replaces the whole document")
}

func TestMemorySentinels(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s, "rooms", map[string]Fields{"r1": {
		"members": []string{"a", "b"},
		"count":   1,
		"typing":  map[string]any{"a": "Alice", "b": "Bob"},
	}})

	require.NoError(t, s.Commit(ctx, []Write{Update("rooms", "r1", Fields{
		"members":            ArrayUnion("b", "c"),
		"count":              Increment(2),
		"touched":            ServerTimestamp,
		Path("typing", "a"):  DeleteField,
		Path("typing", "z"):  "Zed",
		Path("nested", "x"):  DeleteField,
		Path("reads", "a.b"): "m1",
	})}))

	doc, err := s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)

	members, ok := doc.Strings("members")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, members)
	assert.Equal(t, int64(3), doc.Int("count"))
	assert.True(t, doc.Time("touched").Equal(doc.UpdateTime))
	assert.Equal(t, map[string]string{"b": "Bob", "z": "Zed"}, doc.StringMap("typing"))
	assert.Equal(t, map[string]string{"a.b": "m1"}, doc.StringMap("reads"))
	_, ok = doc.Data["nested"]
	assert.False(t, ok, "deleting under a missing parent creates nothing")

	require.NoError(t, s.Commit(ctx, []Write{Update("rooms", "r1", Fields{"members": ArrayRemove("a", "c")})}))
	doc, err = s.Get(ctx, "rooms", "r1")
	require.NoError(t, err)
	members, _ = doc.Strings("members")
	assert.Equal(t, []string{"b"}, members)
}

func TestMemoryBatchLimit(t *testing.T) {
	s := NewMemory()
	writes := make([]Write, MaxBatchWrites+1)
	for i := range writes {
		writes[i] = Create("messages", NewID(), Fields{"i": i})
	}

	assert.ErrorIs(t, s.Commit(context.Background(), writes), ErrBatchTooLarge)
	assert.Equal(t, 0, s.Len("messages"))

	require.NoError(t, s.Commit(context.Background(), writes[:MaxBatchWrites]))
	assert.Equal(t, MaxBatchWrites, s.Len("messages"))
}

func TestMemoryQueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s, "rooms", map[string]Fields{
		"a": {"private": false, "members": []string{"u1"}, "rank": 3},
		"b": {"private": true, "members": []string{"u1", "u2"}, "rank": 1},
		"c": {"private": true, "members": []string{"u2"}, "rank": 2},
	})

	docs, err := s.Query(ctx, Query{Collection: "rooms"}.Where("members", OpArrayContains, "u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(docs))

	docs, err = s.Query(ctx, Query{Collection: "rooms", OrderBy: "rank"}.Where("private", OpEq, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(docs))

	docs, err = s.Query(ctx, Query{Collection: "rooms", OrderBy: "rank", Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(docs))

	docs, err = s.Query(ctx, Query{Collection: "rooms"}.Where("rank", OpGte, 2).Where(IDField, OpNe, "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(docs))

	_, err = s.Query(ctx, Query{Collection: "rooms"}.Where("rank", Op("~"), 1))
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMemoryCursorPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Commit(ctx, []Write{Create("messages", string(rune('a'+i)), Fields{"n": i})}))
	}

	q := Query{Collection: "messages", OrderBy: CreateTimeField, Limit: 2}
	var seen []string
	for {
		docs, err := s.Query(ctx, q)
		require.NoError(t, err)
		if len(docs) == 0 {
			break
		}
		seen = append(seen, ids(docs)...)

		// round trip through the opaque token like a client would
		token := CursorAfter(q, docs[len(docs)-1]).Encode()
		cur, err := DecodeCursor(token)
		require.NoError(t, err)
		q.StartAfter = cur
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)

	_, err := DecodeCursor("not-a-cursor")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemory()
	seed(t, s, "messages", map[string]Fields{"m1": {"room": "r1"}})

	ch, err := s.Watch(ctx, Query{Collection: "messages"}.Where("room", OpEq, "r1"))
	require.NoError(t, err)

	next := func() Snapshot {
		t.Helper()
		select {
		case snap, ok := <-ch:
			require.True(t, ok)
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
		}
		return Snapshot{}
	}

	snap := next()
	require.NoError(t, snap.Err)
	assert.Equal(t, []string{"m1"}, ids(snap.Docs))

	require.NoError(t, s.Commit(ctx, []Write{Create("messages", "m2", Fields{"room": "r1"})}))
	snap = next()
	assert.Equal(t, []string{"m1", "m2"}, ids(snap.Docs))

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
