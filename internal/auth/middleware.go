package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/widgetly-platform/widgetly/internal/api"
)

type contextKey string

const (
	widgetClaimsKey contextKey = "widget_claims"
	adminClaimsKey  contextKey = "admin_claims"
)

// WidgetMiddleware authenticates chat widget requests. The token is read from
// the X-Client-Token header, falling back to the token query parameter.
func WidgetMiddleware(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Client-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := jwtMgr.ValidateWidgetToken(token)
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), widgetClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware authenticates admin API requests carrying a bearer token.
func AdminMiddleware(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := jwtMgr.ValidateAdminToken(parts[1])
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetWidgetClaims(ctx context.Context) *WidgetClaims {
	claims, _ := ctx.Value(widgetClaimsKey).(*WidgetClaims)
	return claims
}

func GetAdminClaims(ctx context.Context) *AdminClaims {
	claims, _ := ctx.Value(adminClaimsKey).(*AdminClaims)
	return claims
}

// WithWidgetClaims stores claims in ctx. Used by tests and internal callers.
func WithWidgetClaims(ctx context.Context, claims *WidgetClaims) context.Context {
	return context.WithValue(ctx, widgetClaimsKey, claims)
}

// WithAdminClaims stores claims in ctx. Used by tests and internal callers.
func WithAdminClaims(ctx context.Context, claims *AdminClaims) context.Context {
	return context.WithValue(ctx, adminClaimsKey, claims)
}
