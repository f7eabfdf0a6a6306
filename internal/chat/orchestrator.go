// Package chat orchestrates retrieval-augmented chat turns: resolve the
// session, retrieve grounding passages, assemble the prompt, generate a
// reply, and persist the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/rag"
	"github.com/uzhavan/uzhavan/internal/session"
)

// SessionStore is the slice of session persistence the orchestrator needs.
type SessionStore interface {
	CreateWithMessages(ctx context.Context, ownerID string, msgs []session.Message) (*session.Session, []session.Message, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Messages(ctx context.Context, sessionID uuid.UUID) ([]session.Message, error)
	Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]session.Message, error)
	AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []session.Message) ([]session.Message, error)
}

// Retriever fetches grounding passages. Failures surface as a degraded
// result, never an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string) rag.Result
}

// Generator produces a reply for a system instruction and message history.
type Generator interface {
	Generate(ctx context.Context, system string, msgs []*ai.Message) (string, error)
}

// Config configures the Orchestrator.
type Config struct {
	Store     SessionStore
	Retriever Retriever
	Generator Generator

	// HistoryWindow is the number of recent messages included in the
	// prompt. Zero disables history.
	HistoryWindow int

	// Instruction overrides the default persona when non-blank.
	Instruction string

	Logger log.Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("chat: Store is required")
	}
	if c.Retriever == nil {
		return errors.New("chat: Retriever is required")
	}
	if c.Generator == nil {
		return errors.New("chat: Generator is required")
	}
	if c.HistoryWindow < 0 {
		return errors.New("chat: HistoryWindow must not be negative")
	}
	if c.Logger == nil {
		return errors.New("chat: Logger is required")
	}
	return nil
}

// TurnRequest is one user turn.
type TurnRequest struct {
	// UserID identifies the owner. Required.
	UserID string

	// SessionID continues an existing session. Nil starts a new one; an
	// unknown ID or one owned by someone else also starts a new session
	// rather than failing the turn.
	SessionID *uuid.UUID

	// Message is the user's new message. Must not be blank.
	Message string
}

// TurnResult is the outcome of a successfully handled turn.
type TurnResult struct {
	SessionID      uuid.UUID
	SessionCreated bool
	Title          string
	Reply          string

	// UsedRetrieval is true when the reply was grounded on retrieved
	// passages.
	UsedRetrieval bool
	// UsedHistory is true when prior messages were included in the prompt.
	UsedHistory bool
	// RetrievalDegraded is true when retrieval failed and the turn
	// proceeded ungrounded.
	RetrievalDegraded bool
	RetrievedCount    int

	// Messages is the full transcript after the turn, including the pair
	// just appended.
	Messages []session.Message
}

// Orchestrator runs chat turns end to end.
//
// Turns on the same session are serialized in-process; the session store's
// row lock covers writers outside this process.
type Orchestrator struct {
	cfg   Config
	locks *sessionLocks
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg, locks: newSessionLocks()}, nil
}

// HandleTurn runs one chat turn.
//
// A turn never fails because retrieval failed: the reply is generated
// without grounding instead. A generation failure after the fallback
// attempt returns ErrGenerationFailed with no session mutation: a new
// session is only created, pre-populated with the turn's message pair,
// after generation succeeds. A persistence failure after a successful
// generation returns ErrPersistenceFailed; the reply is lost and the
// client should resend.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user ID must not be empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message must not be blank", ErrInvalidArgument)
	}

	// A nil session means this turn creates one after generation.
	sess, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	var history []session.Message
	if sess != nil {
		release := o.locks.acquire(sess.ID)
		defer release()

		if o.cfg.HistoryWindow > 0 {
			history, err = o.cfg.Store.Recent(ctx, sess.ID, o.cfg.HistoryWindow)
			if err != nil {
				// History is an enhancement; generate without it.
				o.cfg.Logger.Warn("loading history failed, continuing without it",
					"session_id", sess.ID, "error", err)
				history = nil
			}
		}
	}

	retrieval := o.cfg.Retriever.Retrieve(ctx, req.Message)

	input := PromptInput{
		Instruction: o.cfg.Instruction,
		History:     history,
		Retrieval:   retrieval,
		UserMessage: req.Message,
	}
	prompt := Assemble(input)

	reply, err := o.cfg.Generator.Generate(ctx, prompt.System, prompt.Messages)
	if err != nil && prompt.UsedRetrieval {
		// One ungrounded attempt before giving up, mirroring the
		// degraded-retrieval path.
		o.cfg.Logger.Warn("grounded generation failed, retrying without retrieval",
			"error", err)
		fallback := WithoutRetrieval(input)
		reply, err = o.cfg.Generator.Generate(ctx, fallback.System, fallback.Messages)
		if err == nil {
			prompt = fallback
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	pair := []session.Message{
		{Sender: session.SenderUser, Content: req.Message},
		{Sender: session.SenderAI, Content: reply},
	}

	// Exactly one session write per turn: create pre-populated, or append.
	created := sess == nil
	var appended []session.Message
	if created {
		sess, appended, err = o.cfg.Store.CreateWithMessages(ctx, req.UserID, pair)
	} else {
		appended, err = o.cfg.Store.AppendMessages(ctx, sess.ID, pair)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	title := sess.Title
	if title == session.DefaultTitle {
		title = session.DeriveTitle(req.Message)
	}

	retrievedCount := len(retrieval.Passages)
	if !prompt.UsedRetrieval {
		// The final prompt carried no retrieval block, so the count
		// reports what grounded the reply, not what the search found.
		retrievedCount = 0
	}

	transcript, err := o.cfg.Store.Messages(ctx, sess.ID)
	if err != nil {
		// The turn is already persisted; return at least the new pair.
		o.cfg.Logger.Warn("loading transcript snapshot failed",
			"session_id", sess.ID, "error", err)
		transcript = appended
	}

	o.cfg.Logger.Info("handled turn",
		"session_id", sess.ID,
		"session_created", created,
		"used_retrieval", prompt.UsedRetrieval,
		"used_history", prompt.UsedHistory,
		"retrieval_degraded", retrieval.Degraded,
		"retrieved", len(retrieval.Passages),
		"history_len", len(history),
		"last_seq", lastSequence(appended))

	return &TurnResult{
		SessionID:         sess.ID,
		SessionCreated:    created,
		Title:             title,
		Reply:             reply,
		UsedRetrieval:     prompt.UsedRetrieval,
		UsedHistory:       prompt.UsedHistory,
		RetrievalDegraded: retrieval.Degraded,
		RetrievedCount:    retrievedCount,
		Messages:          transcript,
	}, nil
}

// resolveSession finds an existing session for this turn. A nil session
// means none resolved and one will be created after generation succeeds.
// An unknown session ID or a session owned by another user also yields
// nil; existence of foreign sessions is never revealed.
func (o *Orchestrator) resolveSession(ctx context.Context, req TurnRequest) (*session.Session, error) {
	if req.SessionID == nil {
		return nil, nil
	}

	sess, err := o.cfg.Store.Get(ctx, *req.SessionID)
	switch {
	case err == nil && sess.OwnerID == req.UserID:
		return sess, nil
	case err == nil:
		o.cfg.Logger.Warn("session owned by another user, starting fresh",
			"session_id", *req.SessionID, "user", req.UserID)
		return nil, nil
	case errors.Is(err, session.ErrNotFound):
		o.cfg.Logger.Debug("session not found, starting fresh",
			"session_id", *req.SessionID)
		return nil, nil
	default:
		return nil, fmt.Errorf("resolving session: %w", err)
	}
}

func lastSequence(msgs []session.Message) int32 {
	if len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].SequenceNumber
}
