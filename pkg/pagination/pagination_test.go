package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-4))
	require.Equal(t, 10, NormalizeLimit(10))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 1, 5, 12, 0, 0, 123, time.UTC), ID: uuid.New()}

	got, err := ParseCursor(EncodeCursor(want))
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(want.CreatedAt))
	require.Equal(t, want.ID, got.ID)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)

	_, err = ParseCursor("!!!")
	require.Error(t, err)
}

func TestBuildPage(t *testing.T) {
	type row struct {
		id uuid.UUID
		at time.Time
	}
	now := time.Now().UTC()
	rows := []row{{uuid.New(), now}, {uuid.New(), now.Add(-time.Minute)}, {uuid.New(), now.Add(-2 * time.Minute)}}
	cursorOf := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page := BuildPage(rows, 2, cursorOf)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	require.Equal(t, rows[1].id, next.ID)

	last := BuildPage(rows[:2], 2, cursorOf)
	require.Len(t, last.Items, 2)
	require.Empty(t, last.NextCursor)
}
