package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/widgetly-platform/widgetly/internal/api"
)

// ClientDirectory reports the tenant a client was provisioned under.
type ClientDirectory interface {
	OwnerTenant(ctx context.Context, clientID string) (tenantID string, found bool, err error)
}

// Handler issues widget tokens to admins embedding a chatbot on a site.
type Handler struct {
	jwtMgr    *JWTManager
	directory ClientDirectory
	validate  *validator.Validate
}

func NewHandler(jwtMgr *JWTManager, directory ClientDirectory) *Handler {
	return &Handler{
		jwtMgr:    jwtMgr,
		directory: directory,
		validate:  validator.New(),
	}
}

type WidgetTokenRequest struct {
	ClientID string `json:"client_id" validate:"required,max=128"`
	TenantID string `json:"tenant_id" validate:"omitempty,max=128"`
}

type WidgetTokenResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// IssueWidgetToken signs a widget token. Owners may only issue tokens for
// clients provisioned under their own tenant. The token's tenant always
// matches the client's recorded owner when one is set.
func (h *Handler) IssueWidgetToken(w http.ResponseWriter, r *http.Request) {
	claims := GetAdminClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req WidgetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if claims.Role != RoleAdmin && req.TenantID == "" {
		req.TenantID = claims.TenantID
	}
	if !claims.CanManageTenant(req.TenantID) {
		api.HandleError(w, api.ErrForbidden)
		return
	}

	owner, found, err := h.directory.OwnerTenant(r.Context(), req.ClientID)
	if err != nil {
		slog.Warn("looking up client owner", "client_id", req.ClientID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	if claims.Role != RoleAdmin && (!found || owner != req.TenantID) {
		slog.Warn("widget token refused for foreign client",
			"client_id", req.ClientID, "owner", owner, "by", claims.Email)
		api.HandleError(w, api.ErrForbidden)
		return
	}
	if found && owner != "" {
		if req.TenantID == "" {
			req.TenantID = owner
		} else if req.TenantID != owner {
			api.HandleError(w, api.NewValidationError("tenant_id does not own client "+req.ClientID))
			return
		}
	}

	token, err := h.jwtMgr.GenerateWidgetToken(req.ClientID, req.TenantID)
	if err != nil {
		slog.Error("issuing widget token", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("widget token issued", "client_id", req.ClientID, "tenant_id", req.TenantID, "by", claims.Email)
	api.JSON(w, http.StatusCreated, WidgetTokenResponse{
		Token:    token,
		ClientID: req.ClientID,
		TenantID: req.TenantID,
	})
}
