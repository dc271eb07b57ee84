package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	t.Parallel()

	t.Run("short text is kept whole", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "Fix the login bug", DeriveTitle("Fix the login bug"))
	})

	t.Run("long text is cut at thirty characters", func(t *testing.T) {
		t.Parallel()
		title := DeriveTitle("Can you refactor this function to be more efficient and readable?")
		assert.Equal(t, "Can you refactor this function...", title)
	})

	t.Run("trailing whitespace at the cut is trimmed", func(t *testing.T) {
		t.Parallel()
		title := DeriveTitle("A short sentence that ends on a space boundary somewhere")
		assert.False(t, strings.Contains(title, " ..."))
		assert.True(t, strings.HasSuffix(title, "..."))
	})

	t.Run("empty text falls back to default", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "New Session", DeriveTitle(""))
	})
}

func TestDerivePreview(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 250)
	assert.Len(t, DerivePreview(long), 100)
	assert.Equal(t, "short", DerivePreview("short"))
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1", AgentName: "coder"}})
	require.NoError(t, err)

	data, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", data.Metadata.ID)
	assert.Equal(t, "coder", data.Metadata.AgentName)
	assert.False(t, data.Metadata.CreatedAt.IsZero())

	// Returned records are snapshots, not shared state.
	data.Messages = append(data.Messages, Message{ID: "m1"})
	fresh, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Messages)
}

func TestMemoryStore_GetUnknownSession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_AppendDerivesTitleAndPreview(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1", Title: "New Session"}}))

	prompt := "Can you refactor this function to be more efficient and readable?"
	require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{ID: "m1", Role: RoleUser, Content: prompt}))
	require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{ID: "m2", Role: RoleAssistant, Content: "Sure."}))

	data, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Can you refactor this function...", data.Metadata.Title)
	assert.Equal(t, prompt, data.Metadata.LastMessagePreview, "preview tracks the latest user message")
	assert.Equal(t, 2, data.Metadata.MessageCount)

	// A later user message moves the preview but not the title.
	require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{ID: "m3", Role: RoleUser, Content: "And add tests"}))
	data, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Can you refactor this function...", data.Metadata.Title)
	assert.Equal(t, "And add tests", data.Metadata.LastMessagePreview)
}

func TestMemoryStore_AppendToUnknownSessionIsNoOp(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	// A message landing after its session is gone is dropped silently.
	err := store.AppendMessage(ctx, "ghost", Message{ID: "m1", Role: RoleAssistant, Content: "late"})
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "the no-op append must not create a session")
}

func TestMemoryStore_ClearMessages(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1"}}))
	require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{ID: "m1", Role: RoleUser, Content: "Fix the login bug"}))
	require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{ID: "m2", Role: RoleAssistant, Content: "Done."}))

	require.NoError(t, store.ClearMessages(ctx, "sess-1"))

	data, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, data.Messages)
	assert.Zero(t, data.Metadata.MessageCount)
	assert.Empty(t, data.Metadata.LastMessagePreview)
	assert.Equal(t, "Fix the login bug", data.Metadata.Title, "clearing history keeps the title")

	// Unknown ids are tolerated.
	assert.NoError(t, store.ClearMessages(ctx, "ghost"))
}

func TestMemoryStore_ListOrdersByRecency(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{
			ID:        fmt.Sprintf("sess-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}}))
	}
	// Touching the oldest brings it to the front.
	require.NoError(t, store.AppendMessage(ctx, "sess-0", Message{ID: "m1", Role: RoleUser, Content: "hi"}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "sess-0", list[0].ID)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1"}}))

	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "sess-1"), ErrSessionNotFound)
}

func TestMemoryStore_CopyCarriesFullHistory(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1"}}))
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, store.AppendMessage(ctx, "sess-1", Message{
			ID: fmt.Sprintf("m%d", i), Role: role, Content: fmt.Sprintf("message %d", i),
		}))
	}

	forked, err := store.Copy(ctx, "sess-1", "sess-2", ForkSuffix)
	require.NoError(t, err)
	assert.Equal(t, "sess-2", forked.Metadata.ID)
	assert.True(t, strings.HasSuffix(forked.Metadata.Title, " (Fork)"))
	assert.Len(t, forked.Messages, 5)

	// The copy is independent of the source.
	require.NoError(t, store.AppendMessage(ctx, "sess-2", Message{ID: "m5", Role: RoleUser, Content: "diverge"}))
	source, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, source.Messages, 5)

	duplicated, err := store.Copy(ctx, "sess-1", "sess-3", DuplicateSuffix)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(duplicated.Metadata.Title, " (Copy)"))
}

func TestMemoryStore_UpdateMetadata(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Data{Metadata: Metadata{ID: "sess-1"}}))

	err := store.UpdateMetadata(ctx, Metadata{
		ID: "sess-1", Title: "Renamed", AgentName: "coder", ModeID: "plan",
	})
	require.NoError(t, err)

	data, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", data.Metadata.Title)
	assert.Equal(t, "plan", data.Metadata.ModeID)

	assert.ErrorIs(t, store.UpdateMetadata(ctx, Metadata{ID: "ghost"}), ErrSessionNotFound)
}
