package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpilot/internal/orchestrator"
	"formpilot/internal/perception"
	"formpilot/internal/schema"
)

// tickingClock advances one second per reading so rows get distinct,
// ordered timestamps.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T, opts ...Option) *LocalStore {
	t.Helper()
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	s, err := NewLocalStore(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func form(t *testing.T, doc string) *schema.Tree {
	t.Helper()
	tree, err := schema.Parse([]byte(doc))
	require.NoError(t, err)
	return tree
}

func TestNewLocalStore_CreatesTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	for _, name := range Tables {
		ok, err := s.TableExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	ok, err := s.TableExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := s.MissingTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestNewLocalStore_FileDatabase(t *testing.T) {
	path := t.TempDir() + "/nested/dir/formpilot.db"
	s, err := NewLocalStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())

	// Reopening keeps the schema.
	s, err = NewLocalStore(path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.TableExists(context.Background(), "sessions")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.db.Exec(`DROP TABLE messages`)
	require.NoError(t, err)

	missing, err := s.MissingTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"messages"}, missing)
}

func TestCreateSession_DoesNothingOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.CreateSession(ctx, id, form(t, `{"name": ""}`)))
	require.NoError(t, s.CreateSession(ctx, id, form(t, `{"name": "overwritten"}`)))

	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.JSONEq(t, `{"name": ""}`, string(mustJSON(t, sess.Form)))
	assert.Equal(t, sess.CreatedAt, sess.LastUpdatedAt)
}

func TestUpsertSession_ReplacesForm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.UpsertSession(ctx, id, form(t, `{"name": ""}`)))
	require.NoError(t, s.UpsertSession(ctx, id, form(t, `{"name": "Ada"}`)))

	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "Ada"}`, string(mustJSON(t, sess.Form)))
	assert.True(t, sess.LastUpdatedAt.After(sess.CreatedAt))
}

func TestUpdateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	err := s.UpdateSession(ctx, id, form(t, `{"a": "1"}`))
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.CreateSession(ctx, id, form(t, `{"a": ""}`)))
	require.NoError(t, s.UpdateSession(ctx, id, form(t, `{"a": "1"}`)))

	got, ok, err := s.LatestForm(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": "1"}`, string(mustJSON(t, got)))
}

func TestSessionFormKeepsKeyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.CreateSession(ctx, id, form(t, `{"zeta": "", "alpha": {"b": "", "a": ""}}`)))
	got, _, err := s.LatestForm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, got.Keys())
	alpha, ok := got.Child("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, alpha.Keys())
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, ok, err := s.LatestForm(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSessions_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, s.CreateSession(ctx, id, form(t, `{}`)))
	}
	got, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, sess := range got {
		assert.Equal(t, ids[i], sess.ID)
	}
}

func TestDeleteSession_RemovesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.ErrorIs(t, s.DeleteSession(ctx, id), ErrSessionNotFound)

	require.NoError(t, s.SaveTurn(ctx, id, form(t, `{"a": ""}`), Message{ID: uuid.New(), Prompt: "hi", Response: "hello"}))
	require.NoError(t, s.DeleteSession(ctx, id))

	exists, err := s.SessionExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	msgs, err := s.Messages(ctx, id, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveTurn_PersistsFormAndMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	msgID := uuid.New()

	require.NoError(t, s.SaveTurn(ctx, id, form(t, `{"name": "Ada"}`), Message{ID: msgID, Prompt: "I'm Ada", Response: "Where do you live?"}))

	msgs, err := s.Messages(ctx, id, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgID, msgs[0].ID)
	assert.Equal(t, id, msgs[0].SessionID)
	assert.Equal(t, "I'm Ada", msgs[0].Prompt)
	assert.Equal(t, "Where do you live?", msgs[0].Response)
	assert.False(t, msgs[0].CreatedAt.IsZero())

	got, ok, err := s.LatestForm(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"name": "Ada"}`, string(mustJSON(t, got)))
}

func TestSaveTurn_NilFormWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.Error(t, s.SaveTurn(ctx, id, nil, Message{ID: uuid.New(), Prompt: "x"}))
	msgs, err := s.Messages(ctx, id, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessages_MissingSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Messages(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	msgs, err := s.Messages(ctx, uuid.New(), true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessages_CorruptIDIsAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid := uuid.New()

	_, err := s.db.Exec(
		`INSERT INTO messages (message_id, session_id, prompt, response, created_at) VALUES (?, ?, ?, ?, ?)`,
		"not-a-uuid", sid.String(), "hi", "hello", "2024-03-01T12:00:01.000000000Z")
	require.NoError(t, err)

	_, err = s.Messages(ctx, sid, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-uuid")
}

func TestUpsertMessage_ReplacesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid, mid := uuid.New(), uuid.New()

	require.NoError(t, s.UpsertMessage(ctx, Message{ID: mid, SessionID: sid, Prompt: "a", Response: "b"}))
	require.NoError(t, s.UpsertMessage(ctx, Message{ID: mid, SessionID: sid, Prompt: "a", Response: "c"}))

	msgs, err := s.Messages(ctx, sid, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Response)
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	f := form(t, `{"a": ""}`)

	for i, m := range []Message{
		{Prompt: "hi", Response: "hello, what's your name?"},
		{Prompt: "Ada", Response: ""},
		{Prompt: "", Response: "The form was successfully filled."},
	} {
		m.ID = uuid.NewSHA1(id, []byte(fmt.Sprint(i)))
		require.NoError(t, s.SaveTurn(ctx, id, f, m))
	}

	turns, err := s.History(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.Turn{
		orchestrator.UserTurn("hi"),
		{Role: orchestrator.RoleAssistant, Content: "hello, what's your name?"},
		orchestrator.UserTurn("Ada"),
		{Role: orchestrator.RoleAssistant, Content: "The form was successfully filled."},
	}, turns)

	recent, err := s.History(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.Turn{
		orchestrator.UserTurn("Ada"),
		{Role: orchestrator.RoleAssistant, Content: "The form was successfully filled."},
	}, recent)

	empty, err := s.History(ctx, uuid.New(), 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRoleTraces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	traces := []*perception.RoleTrace{
		{ID: "t1", Role: "intent", SessionID: "s1", SystemPrompt: "sys", UserPrompt: "u", Response: "r", Success: true, Timestamp: base},
		{ID: "t2", Role: "extraction", SessionID: "s1", SystemPrompt: "sys", UserPrompt: "u", Response: "", Success: false, ErrorMessage: "boom", Timestamp: base.Add(time.Minute)},
		{ID: "t3", Role: "conversation", SessionID: "s2", SystemPrompt: "sys", UserPrompt: "u", Response: "r", Structured: true, DurationMs: 12, Success: true, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, tr := range traces {
		require.NoError(t, s.StoreRoleTrace(tr))
	}
	require.Error(t, s.StoreRoleTrace(nil))

	all, err := s.RoleTraces(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID)
	assert.True(t, all[0].Structured)
	assert.Equal(t, int64(12), all[0].DurationMs)

	s1, err := s.RoleTraces(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, "t2", s1[0].ID)
	assert.Equal(t, "boom", s1[0].ErrorMessage)
	assert.False(t, s1[0].Success)
	assert.Equal(t, base.Add(time.Minute), s1[0].Timestamp)

	limited, err := s.RoleTraces(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPruneRoleTraces(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	s, err := NewLocalStore(":memory:", WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.StoreRoleTrace(&perception.RoleTrace{ID: "old", Role: "intent", Timestamp: now.Add(-72 * time.Hour)}))
	require.NoError(t, s.StoreRoleTrace(&perception.RoleTrace{ID: "new", Role: "intent", Timestamp: now.Add(-time.Hour)}))

	n, err := s.PruneRoleTraces(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.RoleTraces(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

func TestUUIDFromString(t *testing.T) {
	id, err := UUIDFromString("test")
	require.NoError(t, err)
	assert.Equal(t, "098f6bcd-4621-d373-cade-4e832627b4f6", id.String())

	again, err := UUIDFromString("test")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = UUIDFromString("")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	assert.Equal(t, want, parseTimestamp(want.Format(timeLayout)))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), parseTimestamp("2024-03-01T12:00:00Z"))
	assert.True(t, parseTimestamp("garbage").IsZero())
}

func mustJSON(t *testing.T, tree *schema.Tree) []byte {
	t.Helper()
	raw, err := tree.MarshalJSON()
	require.NoError(t, err)
	return raw
}
