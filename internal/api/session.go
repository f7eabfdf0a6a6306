package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/session"
)

const sessionsDefaultLimit = 50

// SessionStore is the slice of session persistence the handlers need.
type SessionStore interface {
	Create(ctx context.Context, ownerID string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Messages(ctx context.Context, sessionID uuid.UUID) ([]session.Message, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]session.Summary, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
	ClearForOwner(ctx context.Context, ownerID string) (int64, error)
}

type sessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// Transport DTOs.
type sessionItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type messageItem struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Sequence  int32     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionDetail struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []messageItem `json:"messages"`
}

// list handles GET /api/v1/sessions: the caller's sessions, most recently
// updated first.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return
	}

	summaries, err := h.store.ListByOwner(r.Context(), userID, sessionsDefaultLimit)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	items := make([]sessionItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, sessionItem{
			ID:           s.ID.String(),
			Title:        s.Title,
			Preview:      s.Preview,
			MessageCount: s.MessageCount,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": items}, h.logger)
}

// create handles POST /api/v1/sessions: an empty session the client can
// address before the first turn.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return
	}

	sess, err := h.store.Create(r.Context(), userID)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, sessionItem{
		ID:        sess.ID.String(),
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}, h.logger)
}

// get handles GET /api/v1/sessions/{id}: the full transcript.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireOwnership(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), sess.ID)
	if err != nil {
		h.logger.Error("loading messages", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	items := make([]messageItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageItem{
			ID:        m.ID.String(),
			Sender:    string(m.Sender),
			Content:   m.Content,
			Sequence:  m.SequenceNumber,
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, sessionDetail{
		ID:        sess.ID.String(),
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Messages:  items,
	}, h.logger)
}

// delete handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id is not a valid UUID", h.logger)
		return
	}

	switch err := h.store.Delete(r.Context(), id, userID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
	case errors.Is(err, session.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "session_forbidden", "session belongs to another user", h.logger)
	default:
		h.logger.Error("deleting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

// clear handles DELETE /api/v1/sessions: remove all of the caller's
// sessions and report how many were deleted.
func (h *sessionHandler) clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return
	}

	deleted, err := h.store.ClearForOwner(r.Context(), userID)
	if err != nil {
		h.logger.Error("clearing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deletedCount": deleted}, h.logger)
}

// requireOwnership parses the {id} path value, loads the session, and
// verifies the caller owns it. Writes the error response itself and
// returns ok=false when the request cannot proceed. An owner mismatch
// reads as not found so foreign session existence is never revealed.
func (h *sessionHandler) requireOwnership(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id is not a valid UUID", h.logger)
		return nil, false
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
			return nil, false
		}
		h.logger.Error("loading session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return nil, false
	}

	if sess.OwnerID != userID {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
		return nil, false
	}

	return sess, true
}
