package usage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/widgetly-platform/widgetly/internal/api"
	"github.com/widgetly-platform/widgetly/internal/audit"
	"github.com/widgetly-platform/widgetly/internal/auth"
)

type contextKey string

const decisionKey contextKey = "usage_decision"

// EventLister lists persisted usage events for an entity.
type EventLister interface {
	ListByEntity(ctx context.Context, kind, id string, params audit.ListParams) ([]audit.UsageLog, int64, error)
}

// Handler serves the admission middleware and the admin usage endpoints.
type Handler struct {
	gate     *Gate
	svc      *Service
	events   EventLister
	failOpen bool
	validate *validator.Validate
}

// NewHandler creates a new usage Handler. events may be nil when no event
// history is kept; the events endpoint then answers 404.
func NewHandler(gate *Gate, svc *Service, events EventLister, failOpen bool) *Handler {
	return &Handler{
		gate:     gate,
		svc:      svc,
		events:   events,
		failOpen: failOpen,
		validate: validator.New(),
	}
}

type rejectionResponse struct {
	Error string `json:"error"`
	*Rejection
}

// Admission blocks chat requests whose client or tenant is over quota.
// Expects widget claims set by auth.WidgetMiddleware.
func (h *Handler) Admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.GetWidgetClaims(r.Context())
		if claims == nil {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		d, err := h.gate.Admit(r.Context(), claims.ClientID, claims.TenantID)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) && h.failOpen {
				slog.Warn("usage: store unavailable, admitting request", "client_id", claims.ClientID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !errors.Is(err, ErrEntityNotFound) {
				slog.Error("usage: admission check failed", "client_id", claims.ClientID, "error", err)
			}
			api.HandleError(w, mapError(err))
			return
		}

		if !d.Allowed {
			api.JSONBody(w, http.StatusTooManyRequests, rejectionResponse{
				Error:     d.Rejection.Message(),
				Rejection: d.Rejection,
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey, d)))
	})
}

// GetDecision returns the admission decision stored by Admission, if any.
func GetDecision(ctx context.Context) *Decision {
	d, _ := ctx.Value(decisionKey).(*Decision)
	return d
}

type ProvisionRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=client tenant"`
	ID       string `json:"id" validate:"required,max=128"`
	Plan     string `json:"plan" validate:"omitempty,max=32"`
	Timezone string `json:"timezone" validate:"omitempty,max=64"`
	TenantID string `json:"tenant_id" validate:"omitempty,max=128"`
}

type ChangePlanRequest struct {
	Plan string `json:"plan" validate:"required,max=32"`
}

// Provision creates the usage counter of a new client or tenant.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	key := EntityKey{Kind: EntityKind(req.Kind), ID: req.ID}
	if !authorized(r.Context(), key) {
		api.HandleError(w, api.ErrForbidden)
		return
	}

	c, err := h.svc.Provision(r.Context(), key, ProvisionParams{
		Plan:     req.Plan,
		Timezone: req.Timezone,
		TenantID: req.TenantID,
	})
	if err != nil {
		logAdminError("provisioning counter", key, err)
		api.HandleError(w, mapError(err))
		return
	}

	api.JSON(w, http.StatusCreated, c)
}

// GetUsage reports counts, limits, and remaining quota for one entity.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	key, ok := entityFromPath(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), key)
	if err != nil {
		logAdminError("loading usage", key, err)
		api.HandleError(w, mapError(err))
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// ChangePlan switches the plan of one entity.
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	key, ok := entityFromPath(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	status, err := h.svc.ChangePlan(r.Context(), key, req.Plan)
	if err != nil {
		logAdminError("changing plan", key, err)
		api.HandleError(w, mapError(err))
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// Delete removes the counter of a deleted entity.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := entityFromPath(w, r)
	if !ok {
		return
	}

	if err := h.svc.Remove(r.Context(), key); err != nil {
		logAdminError("removing counter", key, err)
		api.HandleError(w, mapError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListEvents returns the paginated usage event history of one entity.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := entityFromPath(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		api.HandleError(w, api.NewNotFoundError("usage event history is not enabled"))
		return
	}

	params := parseEventParams(r)
	logs, total, err := h.events.ListByEntity(r.Context(), string(key.Kind), key.ID, params)
	if err != nil {
		slog.Error("listing usage events", "entity", key.String(), "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

func entityFromPath(w http.ResponseWriter, r *http.Request) (EntityKey, bool) {
	key := EntityKey{
		Kind: EntityKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "entityID"),
	}
	if !key.Kind.Valid() || key.ID == "" {
		api.HandleError(w, api.NewBadRequestError("entity kind must be client or tenant"))
		return EntityKey{}, false
	}
	if !authorized(r.Context(), key) {
		api.HandleError(w, api.ErrForbidden)
		return EntityKey{}, false
	}
	return key, true
}

// authorized lets admins act on any entity and owners on their own tenant.
func authorized(ctx context.Context, key EntityKey) bool {
	claims := auth.GetAdminClaims(ctx)
	if claims == nil {
		return false
	}
	if claims.Role == auth.RoleAdmin {
		return true
	}
	return key.Kind == KindTenant && claims.CanManageTenant(key.ID)
}

func parseEventParams(r *http.Request) audit.ListParams {
	params := audit.DefaultListParams()
	q := r.URL.Query()

	if et := q.Get("event_type"); et != "" {
		params.EventType = et
	}
	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}
	return params
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return api.ErrEntityNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return api.ErrServiceUnavailable
	case errors.Is(err, ErrEntityExists):
		return api.NewConflictError("usage counter already exists")
	case errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrUnknownKind), errors.Is(err, ErrUnknownTimezone),
		errors.Is(err, ErrInvalidOwner):
		return api.NewValidationError(err.Error())
	default:
		return api.ErrInternalServer
	}
}

func logAdminError(op string, key EntityKey, err error) {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		slog.Warn(op, "entity", key.String(), "error", err)
	case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrEntityExists),
		errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrUnknownKind), errors.Is(err, ErrUnknownTimezone),
		errors.Is(err, ErrInvalidOwner):
	default:
		slog.Error(op, "entity", key.String(), "error", err)
	}
}
