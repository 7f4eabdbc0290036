package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := Query{
		Collection: "messages",
		OrderBy:    CreateTimeField,
		Desc:       true,
		Limit:      26,
		StartAfter: &Cursor{Value: ts, ID: "m9"},
	}.Where("roomId", OpEq, "r1").Where("members", OpArrayContains, "u1")

	sql, args, err := buildSelect(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE collection = $1")
	assert.Contains(t, sql, "(data -> $2::text) = $3::jsonb")
	assert.Contains(t, sql, "(data -> $4::text) @> $5::jsonb")
	assert.Contains(t, sql, "(created_at, id) < ($6::timestamptz, $7)")
	assert.Contains(t, sql, "ORDER BY created_at DESC, id DESC")
	assert.Contains(t, sql, "LIMIT $8")

	require.Len(t, args, 8)
	assert.Equal(t, "messages", args[0])
	assert.Equal(t, `"r1"`, args[2])
	assert.Equal(t, `["u1"]`, args[4])
	assert.Equal(t, ts, args[5])
	assert.Equal(t, "m9", args[6])
	assert.Equal(t, 26, args[7])
}

func TestBuildSelectDataOrder(t *testing.T) {
	sql, args, err := buildSelect(Query{Collection: "rooms", OrderBy: "name"})
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY (data -> $2::text) ASC, id ASC")
	assert.Equal(t, []any{"rooms", "name"}, args)
}

func TestBuildSelectRejectsBadTimeFilter(t *testing.T) {
	_, _, err := buildSelect(Query{Collection: "messages"}.Where(CreateTimeField, OpGt, 42))
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
