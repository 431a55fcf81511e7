package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "widgetly"

// Admin roles accepted on the admin API.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// WidgetClaims identify the chatbot client a widget token was issued for.
type WidgetClaims struct {
	ClientID string `json:"client_id"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// AdminClaims identify a platform admin or a tenant owner.
type AdminClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// CanManageTenant reports whether the holder may act on resources of tenantID.
// Admins may act on any tenant; owners only on their own.
func (c *AdminClaims) CanManageTenant(tenantID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == RoleOwner && c.TenantID != "" && c.TenantID == tenantID
}

type JWTManager struct {
	widgetSecret []byte
	adminSecret  []byte
	widgetExpiry time.Duration
	adminExpiry  time.Duration
}

func NewJWTManager(widgetSecret, adminSecret string, widgetExpiry, adminExpiry time.Duration) *JWTManager {
	return &JWTManager{
		widgetSecret: []byte(widgetSecret),
		adminSecret:  []byte(adminSecret),
		widgetExpiry: widgetExpiry,
		adminExpiry:  adminExpiry,
	}
}

// GenerateWidgetToken issues the token embedded in a client's chat widget.
func (m *JWTManager) GenerateWidgetToken(clientID, tenantID string) (string, error) {
	now := time.Now()
	claims := WidgetClaims{
		ClientID: clientID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.widgetExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.widgetSecret)
	if err != nil {
		return "", fmt.Errorf("signing widget token: %w", err)
	}
	return token, nil
}

// GenerateAdminToken issues an admin API token.
func (m *JWTManager) GenerateAdminToken(email, role, tenantID string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Email:    email,
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.adminExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.adminSecret)
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return token, nil
}

func (m *JWTManager) ValidateWidgetToken(tokenStr string) (*WidgetClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &WidgetClaims{}, m.keyFunc(m.widgetSecret), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing widget token: %w", err)
	}

	claims, ok := token.Claims.(*WidgetClaims)
	if !ok || !token.Valid || claims.ClientID == "" {
		return nil, fmt.Errorf("invalid widget token claims")
	}
	return claims, nil
}

func (m *JWTManager) ValidateAdminToken(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, m.keyFunc(m.adminSecret), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing admin token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleOwner {
		return nil, fmt.Errorf("role %q may not use the admin API", claims.Role)
	}
	return claims, nil
}

func (m *JWTManager) keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}
