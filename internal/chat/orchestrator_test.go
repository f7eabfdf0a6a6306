package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/rag"
	"github.com/uzhavan/uzhavan/internal/session"
)

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	messages map[uuid.UUID][]session.Message

	createErr error
	getErr    error
	recentErr error
	appendErr error

	createCalls int
	appendCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*session.Session),
		messages: make(map[uuid.UUID][]session.Message),
	}
}

func (f *fakeStore) Create(_ context.Context, ownerID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	sess := &session.Session{ID: uuid.New(), OwnerID: ownerID, Title: session.DefaultTitle}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeStore) CreateWithMessages(_ context.Context, ownerID string, msgs []session.Message) (*session.Session, []session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, nil, f.createErr
	}

	sess := &session.Session{ID: uuid.New(), OwnerID: ownerID, Title: session.DefaultTitle}
	for _, m := range msgs {
		if m.Sender == session.SenderUser {
			sess.Title = session.DeriveTitle(m.Content)
			break
		}
	}

	appended := make([]session.Message, 0, len(msgs))
	for i, m := range msgs {
		m.ID = uuid.New()
		m.SessionID = sess.ID
		m.SequenceNumber = int32(i) + 1
		appended = append(appended, m)
	}
	f.sessions[sess.ID] = sess
	f.messages[sess.ID] = appended
	return sess, appended, nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (f *fakeStore) Messages(_ context.Context, sessionID uuid.UUID) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Message(nil), f.messages[sessionID]...), nil
}

func (f *fakeStore) Recent(_ context.Context, sessionID uuid.UUID, n int) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	msgs := f.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]session.Message(nil), msgs...), nil
}

func (f *fakeStore) AppendMessages(_ context.Context, sessionID uuid.UUID, msgs []session.Message) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, session.ErrNotFound
	}

	base := int32(len(f.messages[sessionID]))
	appended := make([]session.Message, 0, len(msgs))
	for i, m := range msgs {
		m.ID = uuid.New()
		m.SessionID = sessionID
		m.SequenceNumber = base + int32(i) + 1
		appended = append(appended, m)
	}
	f.messages[sessionID] = append(f.messages[sessionID], appended...)

	if base == 0 && sess.Title == session.DefaultTitle {
		for _, m := range appended {
			if m.Sender == session.SenderUser {
				sess.Title = session.DeriveTitle(m.Content)
				break
			}
		}
	}
	return appended, nil
}

// fakeRetriever returns a canned retrieval result.
type fakeRetriever struct {
	result rag.Result
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) rag.Result {
	f.calls++
	return f.result
}

// fakeGenerator scripts generation outcomes per call.
type fakeGenerator struct {
	replies []string
	errs    []error
	calls   int

	gotSystems []string
	gotMsgs    [][]*ai.Message
}

func (f *fakeGenerator) Generate(_ context.Context, system string, msgs []*ai.Message) (string, error) {
	i := f.calls
	f.calls++
	f.gotSystems = append(f.gotSystems, system)
	f.gotMsgs = append(f.gotMsgs, msgs)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "default reply", nil
}

func grounded() rag.Result {
	return rag.Result{Passages: []rag.Passage{
		{Text: "Paddy needs standing water.", SourceRef: "paddy.md", Score: 0.9},
	}}
}

func newOrchestrator(t *testing.T, store *fakeStore, retriever *fakeRetriever, gen *fakeGenerator) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Store:         store,
		Retriever:     retriever,
		Generator:     gen,
		HistoryWindow: 6,
		Logger:        log.NewNop(),
	})
	require.NoError(t, err)
	return o
}

func TestHandleTurnNewSession(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{result: grounded()}
	gen := &fakeGenerator{replies: []string{"Transplant after 25 days."}}
	o := newOrchestrator(t, store, retriever, gen)

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "When should I transplant paddy?",
	})
	require.NoError(t, err)

	assert.True(t, res.SessionCreated)
	assert.Equal(t, "Transplant after 25 days.", res.Reply)
	assert.True(t, res.UsedRetrieval)
	assert.False(t, res.UsedHistory)
	assert.False(t, res.RetrievalDegraded)
	assert.Equal(t, 1, res.RetrievedCount)
	assert.Equal(t, "When should I transplant paddy?", res.Title)

	// The result carries the transcript snapshot.
	require.Len(t, res.Messages, 2)
	assert.Equal(t, session.SenderUser, res.Messages[0].Sender)
	assert.Equal(t, session.SenderAI, res.Messages[1].Sender)

	// Both turn messages persisted in order.
	msgs := store.messages[res.SessionID]
	require.Len(t, msgs, 2)
	assert.Equal(t, session.SenderUser, msgs[0].Sender)
	assert.Equal(t, "When should I transplant paddy?", msgs[0].Content)
	assert.Equal(t, session.SenderAI, msgs[1].Sender)

	// Prompt carried the retrieved passage and only the new message.
	require.Len(t, gen.gotSystems, 1)
	assert.Contains(t, gen.gotSystems[0], "Paddy needs standing water.")
	require.Len(t, gen.gotMsgs[0], 1)

	// Exactly one session write: created pre-populated, no extra append.
	assert.Equal(t, 1, store.createCalls)
	assert.Zero(t, store.appendCalls)
}

func TestHandleTurnExistingSessionWithHistory(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{}
	gen := &fakeGenerator{replies: []string{"first"}, errs: nil}
	o := newOrchestrator(t, store, retriever, gen)

	first, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "What is drip irrigation?",
	})
	require.NoError(t, err)

	gen.replies = append(gen.replies, "second")
	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:    "farmer@example.com",
		SessionID: &first.SessionID,
		Message:   "Is it costly?",
	})
	require.NoError(t, err)

	assert.False(t, res.SessionCreated)
	assert.Equal(t, first.SessionID, res.SessionID)
	assert.True(t, res.UsedHistory)
	assert.Len(t, res.Messages, 4)

	// Second prompt includes the first exchange as history.
	require.Len(t, gen.gotSystems, 2)
	assert.Contains(t, gen.gotSystems[1], "User: What is drip irrigation?")
	assert.Contains(t, gen.gotSystems[1], "Assistant: first")

	// Transcript grew append-only.
	assert.Len(t, store.messages[res.SessionID], 4)
}

func TestHandleTurnHistoryWindowLimit(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	sess, err := store.Create(context.Background(), "farmer@example.com")
	require.NoError(t, err)
	var batch []session.Message
	for i := 0; i < 10; i++ {
		batch = append(batch,
			session.Message{Sender: session.SenderUser, Content: "old question"},
			session.Message{Sender: session.SenderAI, Content: "old answer"},
		)
	}
	_, err = store.AppendMessages(context.Background(), sess.ID, batch)
	require.NoError(t, err)

	_, err = o.HandleTurn(context.Background(), TurnRequest{
		UserID:    "farmer@example.com",
		SessionID: &sess.ID,
		Message:   "new question",
	})
	require.NoError(t, err)

	// Window is 6: 6 history lines, no more.
	lines := strings.Count(gen.gotSystems[0], "old ")
	assert.Equal(t, 6, lines)
}

func TestHandleTurnUnknownSessionStartsFresh(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	unknown := uuid.New()
	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:    "farmer@example.com",
		SessionID: &unknown,
		Message:   "hello",
	})
	require.NoError(t, err)
	assert.True(t, res.SessionCreated)
	assert.NotEqual(t, unknown, res.SessionID)
}

func TestHandleTurnForeignSessionStartsFresh(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	foreign, err := store.Create(context.Background(), "other@example.com")
	require.NoError(t, err)

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:    "farmer@example.com",
		SessionID: &foreign.ID,
		Message:   "hello",
	})
	require.NoError(t, err)

	assert.True(t, res.SessionCreated)
	assert.NotEqual(t, foreign.ID, res.SessionID)
	// The foreign session is untouched.
	assert.Empty(t, store.messages[foreign.ID])
}

func TestHandleTurnInvalidArgument(t *testing.T) {
	o := newOrchestrator(t, newFakeStore(), &fakeRetriever{}, &fakeGenerator{})

	_, err := o.HandleTurn(context.Background(), TurnRequest{UserID: "", Message: "hi"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = o.HandleTurn(context.Background(), TurnRequest{UserID: "u", Message: "   "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHandleTurnDegradedRetrieval(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{result: rag.Result{Degraded: true, Reason: errors.New("vector db down")}}
	gen := &fakeGenerator{replies: []string{"ungrounded reply"}}
	o := newOrchestrator(t, store, retriever, gen)

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "ungrounded reply", res.Reply)
	assert.False(t, res.UsedRetrieval)
	assert.True(t, res.RetrievalDegraded)
	assert.Zero(t, res.RetrievedCount)

	// Turn persisted normally despite degraded retrieval.
	assert.Len(t, store.messages[res.SessionID], 2)
}

func TestHandleTurnGroundedFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{result: grounded()}
	gen := &fakeGenerator{
		errs:    []error{errors.New("model rejected prompt"), nil},
		replies: []string{"", "fallback reply"},
	}
	o := newOrchestrator(t, store, retriever, gen)

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "fallback reply", res.Reply)
	assert.False(t, res.UsedRetrieval)
	// The fallback reply was not grounded, so the count reports zero even
	// though the search found passages.
	assert.Zero(t, res.RetrievedCount)
	assert.Equal(t, 2, gen.calls)
	// Second attempt had no retrieval block.
	assert.NotContains(t, gen.gotSystems[1], "Paddy needs standing water.")
	// Turn persisted.
	assert.Len(t, store.messages[res.SessionID], 2)
}

func TestHandleTurnGenerationFailed(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{result: grounded()}
	genErr := errors.New("model unavailable")
	gen := &fakeGenerator{errs: []error{genErr, genErr}}
	o := newOrchestrator(t, store, retriever, gen)

	_, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "hello",
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)

	// No session mutation: nothing was created or appended, so no empty
	// session lingers in the owner's list.
	assert.Empty(t, store.sessions)
	assert.Zero(t, store.createCalls)
	assert.Zero(t, store.appendCalls)
}

func TestHandleTurnGenerationFailedExistingSession(t *testing.T) {
	store := newFakeStore()
	genErr := errors.New("model unavailable")
	gen := &fakeGenerator{errs: []error{genErr}}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	sess, err := store.Create(context.Background(), "farmer@example.com")
	require.NoError(t, err)

	_, err = o.HandleTurn(context.Background(), TurnRequest{
		UserID:    "farmer@example.com",
		SessionID: &sess.ID,
		Message:   "hello",
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)

	// The existing session is untouched.
	assert.Zero(t, store.appendCalls)
	assert.Empty(t, store.messages[sess.ID])
}

func TestHandleTurnUngroundedFailureDoesNotRetry(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{errs: []error{errors.New("boom")}}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	_, err := o.HandleTurn(context.Background(), TurnRequest{
		UserID:  "farmer@example.com",
		Message: "hello",
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 1, gen.calls)
}

func TestHandleTurnPersistenceFailed(t *testing.T) {
	t.Run("create fails for a new session", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = errors.New("connection lost")
		gen := &fakeGenerator{replies: []string{"a reply"}}
		o := newOrchestrator(t, store, &fakeRetriever{}, gen)

		_, err := o.HandleTurn(context.Background(), TurnRequest{
			UserID:  "farmer@example.com",
			Message: "hello",
		})
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		// Generation did happen before the failure.
		assert.Equal(t, 1, gen.calls)
	})

	t.Run("append fails for an existing session", func(t *testing.T) {
		store := newFakeStore()
		gen := &fakeGenerator{replies: []string{"a reply"}}
		o := newOrchestrator(t, store, &fakeRetriever{}, gen)

		sess, err := store.Create(context.Background(), "farmer@example.com")
		require.NoError(t, err)
		store.appendErr = errors.New("connection lost")

		_, err = o.HandleTurn(context.Background(), TurnRequest{
			UserID:    "farmer@example.com",
			SessionID: &sess.ID,
			Message:   "hello",
		})
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.Equal(t, 1, gen.calls)
	})
}

func TestHandleTurnConcurrentSameSession(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	o := newOrchestrator(t, store, &fakeRetriever{}, gen)

	sess, err := store.Create(context.Background(), "farmer@example.com")
	require.NoError(t, err)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.HandleTurn(context.Background(), TurnRequest{
				UserID:    "farmer@example.com",
				SessionID: &sess.ID,
				Message:   "concurrent question",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs := store.messages[sess.ID]
	require.Len(t, msgs, turns*2)
	for i, m := range msgs {
		assert.Equal(t, int32(i+1), m.SequenceNumber)
	}
	// Each persisted turn is a user/ai pair.
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, session.SenderUser, msgs[i].Sender)
		assert.Equal(t, session.SenderAI, msgs[i+1].Sender)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	base := Config{
		Store:     newFakeStore(),
		Retriever: &fakeRetriever{},
		Generator: &fakeGenerator{},
		Logger:    log.NewNop(),
	}

	_, err := New(base)
	assert.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"missing store":     func(c *Config) { c.Store = nil },
		"missing retriever": func(c *Config) { c.Retriever = nil },
		"missing generator": func(c *Config) { c.Generator = nil },
		"missing logger":    func(c *Config) { c.Logger = nil },
		"negative window":   func(c *Config) { c.HistoryWindow = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
