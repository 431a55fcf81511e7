package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/widgetly-platform/widgetly/internal/api"
	"github.com/widgetly-platform/widgetly/internal/auth"
	"github.com/widgetly-platform/widgetly/internal/usage"
)

// Recorder counts completed chat work.
type Recorder interface {
	RecordMessage(ctx context.Context, key usage.EntityKey) error
	RecordSession(ctx context.Context, key usage.EntityKey) error
}

// Handler serves the widget chat endpoints. Both run behind the admission
// middleware and record usage only once the assistant has answered.
type Handler struct {
	assistant Assistant
	sessions  *SessionStore
	recorder  Recorder
	validate  *validator.Validate
}

func NewHandler(assistant Assistant, sessions *SessionStore, recorder Recorder) *Handler {
	return &Handler{
		assistant: assistant,
		sessions:  sessions,
		recorder:  recorder,
		validate:  validator.New(),
	}
}

type MessageRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Message   string `json:"message" validate:"required,max=4000"`
}

type MessageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// CreateSession opens an assistant thread for a new widget conversation.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetWidgetClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	threadID, err := h.assistant.CreateThread(r.Context(), claims.ClientID)
	if err != nil {
		slog.Error("creating assistant thread", "client_id", claims.ClientID, "error", err)
		api.HandleError(w, api.ErrBadGateway)
		return
	}

	sess := &Session{
		ID:        uuid.New().String(),
		ClientID:  claims.ClientID,
		TenantID:  claims.TenantID,
		ThreadID:  threadID,
		CreatedAt: time.Now(),
	}
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		slog.Error("saving chat session", "client_id", claims.ClientID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if err := h.record(r.Context(), claims, h.recorder.RecordSession); err != nil {
		// An uncounted session must not stay usable.
		if derr := h.sessions.Delete(r.Context(), sess.ID); derr != nil {
			slog.Error("removing uncounted chat session", "session_id", sess.ID, "error", derr)
		}
		api.HandleError(w, recordError(err))
		return
	}

	api.JSON(w, http.StatusCreated, sess)
}

// SendMessage forwards a visitor message to the assistant and returns its reply.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetWidgetClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	sess, err := h.sessions.Get(r.Context(), req.SessionID, claims.ClientID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			api.HandleError(w, api.NewNotFoundError("chat session not found"))
			return
		}
		slog.Error("loading chat session", "session_id", req.SessionID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	reply, err := h.assistant.Reply(r.Context(), sess.ThreadID, req.Message)
	if err != nil {
		slog.Error("assistant reply", "session_id", sess.ID, "client_id", claims.ClientID, "error", err)
		api.HandleError(w, api.ErrBadGateway)
		return
	}

	if err := h.record(r.Context(), claims, h.recorder.RecordMessage); err != nil {
		api.HandleError(w, recordError(err))
		return
	}

	api.JSON(w, http.StatusOK, MessageResponse{SessionID: sess.ID, Reply: reply})
}

// record counts the work against the client and, when known, its tenant.
// The client charge decides the response: once it is stored the work is
// delivered, so a failed tenant charge is logged rather than returned. A
// tenant without a counter is not metered.
func (h *Handler) record(ctx context.Context, claims *auth.WidgetClaims, fn func(context.Context, usage.EntityKey) error) error {
	if err := fn(ctx, usage.EntityKey{Kind: usage.KindClient, ID: claims.ClientID}); err != nil {
		return err
	}
	if claims.TenantID == "" {
		return nil
	}
	err := fn(ctx, usage.EntityKey{Kind: usage.KindTenant, ID: claims.TenantID})
	if err != nil && !errors.Is(err, usage.ErrEntityNotFound) {
		slog.Error("tenant usage not recorded", "tenant_id", claims.TenantID, "client_id", claims.ClientID, "error", err)
	}
	return nil
}

func recordError(err error) error {
	if errors.Is(err, usage.ErrEntityNotFound) {
		return api.ErrEntityNotFound
	}
	return api.ErrServiceUnavailable
}
