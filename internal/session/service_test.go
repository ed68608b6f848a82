package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpilot/internal/formdef"
	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
	"formpilot/internal/store"
	"formpilot/internal/types"
)

// processFunc adapts a function to TurnProcessor.
type processFunc func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error)

func (f processFunc) ProcessTurn(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
	return f(ctx, state, utterance)
}

// failingSaves is a store whose SaveTurn always fails.
type failingSaves struct {
	*store.LocalStore
}

func (failingSaves) SaveTurn(context.Context, uuid.UUID, *schema.Tree, store.Message) error {
	return errors.New("disk full")
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *store.LocalStore {
	t.Helper()
	st, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newForms(t *testing.T) *formdef.Loader {
	t.Helper()
	l, err := formdef.NewLoader("", "")
	require.NoError(t, err)
	return l
}

// fillFirst answers every turn by filling the first empty field with the
// utterance and asking for the next one.
func fillFirst(t *testing.T) processFunc {
	return func(_ context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		next := state.Schema.Clone()
		path, ok := schema.FirstUnfilledPath(next)
		require.True(t, ok)
		src := next.Blank()
		setPath(src, path, utterance)
		schema.FillFirstUnfilledField(next, src)
		return &orchestrator.TurnResult{
			Kind:     orchestrator.KindFollowupQuestion,
			Content:  "next please",
			Schema:   next,
			Intent:   "provide_info",
			NewTurns: []orchestrator.Turn{orchestrator.UserTurn(utterance), orchestrator.AssistantTurn("next please", "conversation", "provide_info")},
		}, nil
	}
}

func setPath(t *schema.Tree, path schema.Path, v string) {
	for _, key := range path[:len(path)-1] {
		t, _ = t.Child(key)
	}
	t.SetLeaf(path[len(path)-1], v)
}

func TestChat_FirstTurnStartsFromTemplate(t *testing.T) {
	st := newStore(t)
	forms := newForms(t)
	var seen orchestrator.State
	proc := processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		seen = state
		return fillFirst(t)(ctx, state, utterance)
	})
	svc := NewService(st, forms, proc, WithClock(func() time.Time { return fixedNow }))
	id := uuid.New()

	reply, err := svc.Chat(context.Background(), id, "Ada")
	require.NoError(t, err)

	assert.Empty(t, seen.History)
	assert.True(t, schema.Equal(forms.Template(), seen.Schema))
	assert.NotNil(t, seen.Rules)

	assert.Equal(t, "next please", reply.Response)
	assert.Equal(t, orchestrator.KindFollowupQuestion, reply.Kind)
	assert.Equal(t, MessageID(id, fixedNow), reply.MessageID)
	assert.True(t, reply.Persisted)

	got, ok, err := st.LatestForm(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := got.Get(schema.Path{"personal_info", "first_name"})
	assert.Equal(t, schema.Leaf("Ada"), v)

	msgs, err := st.Messages(context.Background(), id, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ada", msgs[0].Prompt)
	assert.Equal(t, "next please", msgs[0].Response)
	assert.Equal(t, reply.MessageID, msgs[0].ID)
}

func TestChat_LaterTurnLoadsHistoryAndForm(t *testing.T) {
	st := newStore(t)
	clock := fixedNow
	svc := NewService(st, newForms(t), fillFirst(t), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	id := uuid.New()
	ctx := context.Background()

	_, err := svc.Chat(ctx, id, "Ada")
	require.NoError(t, err)

	var seen orchestrator.State
	svc.turns = processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		seen = state
		return fillFirst(t)(ctx, state, utterance)
	})
	reply, err := svc.Chat(ctx, id, "Lovelace")
	require.NoError(t, err)

	assert.Equal(t, []orchestrator.Turn{
		orchestrator.UserTurn("Ada"),
		{Role: orchestrator.RoleAssistant, Content: "next please"},
	}, seen.History)
	v, _ := seen.Schema.Get(schema.Path{"personal_info", "first_name"})
	assert.Equal(t, schema.Leaf("Ada"), v)

	v, _ = reply.Form.Get(schema.Path{"personal_info", "last_name"})
	assert.Equal(t, schema.Leaf("Lovelace"), v)

	msgs, err := svc.Messages(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChat_HistoryLimit(t *testing.T) {
	st := newStore(t)
	svc := NewService(st, newForms(t), fillFirst(t), WithHistoryLimit(1))
	id := uuid.New()
	ctx := context.Background()

	for _, m := range []string{"Ada", "Lovelace"} {
		_, err := svc.Chat(ctx, id, m)
		require.NoError(t, err)
	}

	var seen orchestrator.State
	svc.turns = processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		seen = state
		return fillFirst(t)(ctx, state, utterance)
	})
	_, err := svc.Chat(ctx, id, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, seen.History, 2)
	assert.Equal(t, "Lovelace", seen.History[0].Content)
}

func TestChat_TurnErrorPersistsNothing(t *testing.T) {
	st := newStore(t)
	turnErr := &orchestrator.TurnError{Stage: orchestrator.StageExtract, Err: errors.New("boom")}
	svc := NewService(st, newForms(t), processFunc(func(context.Context, orchestrator.State, string) (*orchestrator.TurnResult, error) {
		return nil, turnErr
	}))
	id := uuid.New()

	_, err := svc.Chat(context.Background(), id, "hello")
	require.ErrorIs(t, err, orchestrator.ErrTurnProcessingFailed)

	exists, err := st.SessionExists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists)
	msgs, err := st.Messages(context.Background(), id, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChat_PersistFailureIsSwallowed(t *testing.T) {
	svc := NewService(failingSaves{newStore(t)}, newForms(t), fillFirst(t))

	reply, err := svc.Chat(context.Background(), uuid.New(), "Ada")
	require.NoError(t, err)
	assert.False(t, reply.Persisted)
	assert.Equal(t, "next please", reply.Response)
}

func TestChat_EmptyMessage(t *testing.T) {
	called := false
	svc := NewService(newStore(t), newForms(t), processFunc(func(context.Context, orchestrator.State, string) (*orchestrator.TurnResult, error) {
		called = true
		return nil, nil
	}))
	_, err := svc.Chat(context.Background(), uuid.New(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.False(t, called)
}

func TestChat_CarriesSessionIDOnContext(t *testing.T) {
	id := uuid.New()
	var got string
	svc := NewService(newStore(t), newForms(t), processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		got = types.CallInfoFrom(ctx).SessionID
		return fillFirst(t)(ctx, state, utterance)
	}))
	_, err := svc.Chat(context.Background(), id, "Ada")
	require.NoError(t, err)
	assert.Equal(t, id.String(), got)
}

func TestChat_OneTurnAtATimePerSession(t *testing.T) {
	var (
		active, peak atomic.Int32
		release      = make(chan struct{})
		entered      = make(chan struct{}, 4)
	)
	proc := processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		active.Add(-1)
		return &orchestrator.TurnResult{Kind: orchestrator.KindDirectReply, Content: "ok", Schema: state.Schema}, nil
	})
	svc := NewService(newStore(t), newForms(t), proc)
	same := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Chat(context.Background(), same, "hi")
			assert.NoError(t, err)
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second turn of the same session started while the first was running")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(1), peak.Load())

	// A different conversation is not blocked.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Chat(context.Background(), uuid.New(), "hi")
		assert.NoError(t, err)
	}()
	<-entered
	assert.Equal(t, int32(2), peak.Load())

	close(release)
	wg.Wait()
	assert.Zero(t, svc.locks.size())
}

func TestChat_CancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	svc := NewService(newStore(t), newForms(t), processFunc(func(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
		close(entered)
		<-release
		return &orchestrator.TurnResult{Kind: orchestrator.KindDirectReply, Content: "ok", Schema: state.Schema}, nil
	}))
	id := uuid.New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Chat(context.Background(), id, "first")
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Chat(ctx, id, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	assert.Zero(t, svc.locks.size())
}

func TestSessionManagement(t *testing.T) {
	st := newStore(t)
	forms := newForms(t)
	svc := NewService(st, forms, fillFirst(t))
	ctx := context.Background()
	id := uuid.New()

	sess, err := svc.CreateSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, schema.Equal(forms.Template(), sess.Form))

	_, err = svc.Messages(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	updated := forms.Template()
	setPath(updated, schema.Path{"address", "city"}, "Paris")
	sess, err = svc.UpdateForm(ctx, id, updated, false)
	require.NoError(t, err)
	v, _ := sess.Form.Get(schema.Path{"address", "city"})
	assert.Equal(t, schema.Leaf("Paris"), v)

	other := uuid.New()
	_, err = svc.UpdateForm(ctx, other, updated, false)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	_, err = svc.UpdateForm(ctx, other, updated, true)
	require.NoError(t, err)
	_, err = svc.UpdateForm(ctx, other, nil, true)
	assert.Error(t, err)

	all, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, svc.DeleteSession(ctx, other))
	_, err = svc.GetSession(ctx, other)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.ErrorIs(t, svc.DeleteSession(ctx, other), store.ErrSessionNotFound)
}

func TestResetSession(t *testing.T) {
	st := newStore(t)
	forms := newForms(t)
	svc := NewService(st, forms, fillFirst(t))
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.Chat(ctx, id, "Ada")
	require.NoError(t, err)

	sess, err := svc.ResetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, schema.Equal(forms.Template(), sess.Form))
	msgs, err := svc.Messages(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Resetting an unknown conversation creates it.
	_, err = svc.ResetSession(ctx, uuid.New())
	require.NoError(t, err)
}

func TestSessionIDs(t *testing.T) {
	id, err := SessionIDFromString("test")
	require.NoError(t, err)
	assert.Equal(t, "098f6bcd-4621-d373-cade-4e832627b4f6", id.String())

	_, err = SessionIDFromString("")
	assert.Error(t, err)

	u := uuid.New()
	parsed, err := ParseSessionID(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, parsed)
	parsed, err = ParseSessionID("test")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	a := MessageID(u, fixedNow)
	assert.Equal(t, a, MessageID(u, fixedNow))
	assert.NotEqual(t, a, MessageID(u, fixedNow.Add(time.Nanosecond)))
	assert.Equal(t, uuid.Version(5), a.Version())
}
