package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/uzhavan/uzhavan/internal/chat"
	"github.com/uzhavan/uzhavan/internal/log"
)

// maxChatBodyBytes caps chat request bodies.
const maxChatBodyBytes = 64 << 10

// Orchestrator is the slice of the chat engine the handler needs.
type Orchestrator interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

type chatHandler struct {
	orchestrator Orchestrator
	logger       log.Logger
}

type chatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID      string           `json:"sessionId"`
	SessionCreated bool             `json:"sessionCreated"`
	Title          string           `json:"title"`
	Reply          string           `json:"reply"`
	UsedHistory    bool             `json:"usedHistory"`
	Retrieval      retrievalSummary `json:"retrieval"`
	Messages       []messageItem    `json:"messages"`
}

type retrievalSummary struct {
	Used     bool `json:"used"`
	Degraded bool `json:"degraded"`
	Count    int  `json:"count"`
}

// send handles POST /api/v1/chat: one retrieval-augmented turn.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "user identity required", h.logger)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	turn := chat.TurnRequest{UserID: userID, Message: req.Message}
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "sessionId is not a valid UUID", h.logger)
			return
		}
		turn.SessionID = &id
	}

	result, err := h.orchestrator.HandleTurn(r.Context(), turn)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	msgs := make([]messageItem, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, messageItem{
			ID:        m.ID.String(),
			Sender:    string(m.Sender),
			Content:   m.Content,
			Sequence:  m.SequenceNumber,
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:      result.SessionID.String(),
		SessionCreated: result.SessionCreated,
		Title:          result.Title,
		Reply:          result.Reply,
		UsedHistory:    result.UsedHistory,
		Retrieval: retrievalSummary{
			Used:     result.UsedRetrieval,
			Degraded: result.RetrievalDegraded,
			Count:    result.RetrievedCount,
		},
		Messages: msgs,
	}, h.logger)
}

// writeTurnError maps orchestrator sentinels to HTTP responses.
func (h *chatHandler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error(), h.logger)
	case errors.Is(err, chat.ErrGenerationFailed):
		h.logger.Error("generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed",
			"the model could not produce a reply, please retry", h.logger)
	case errors.Is(err, chat.ErrPersistenceFailed):
		h.logger.Error("persistence failed after generation", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_failed",
			"the reply could not be saved, please resend your message", h.logger)
	default:
		h.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}
