package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidgetSecret = "widget-secret-32-chars-long!!!!!"
	testAdminSecret  = "admin-secret-32-chars-long!!!!!!"
)

func TestJWTManager_WidgetTokens(t *testing.T) {
	mgr := NewJWTManager(testWidgetSecret, testAdminSecret, time.Hour, time.Hour)

	t.Run("generate and validate widget token", func(t *testing.T) {
		token, err := mgr.GenerateWidgetToken("bot-1", "tenant-1")
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := mgr.ValidateWidgetToken(token)
		require.NoError(t, err)
		assert.Equal(t, "bot-1", claims.ClientID)
		assert.Equal(t, "tenant-1", claims.TenantID)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateWidgetToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("widget token cant validate as admin", func(t *testing.T) {
		token, _ := mgr.GenerateWidgetToken("bot-2", "")
		_, err := mgr.ValidateAdminToken(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager(testWidgetSecret, testAdminSecret, -1*time.Second, -1*time.Second)
		token, err := shortMgr.GenerateWidgetToken("bot-exp", "")
		require.NoError(t, err)

		_, err = shortMgr.ValidateWidgetToken(token)
		assert.Error(t, err)
	})
}

func TestJWTManager_AdminTokens(t *testing.T) {
	mgr := NewJWTManager(testWidgetSecret, testAdminSecret, time.Hour, time.Hour)

	t.Run("owner token", func(t *testing.T) {
		token, err := mgr.GenerateAdminToken("owner@acme.test", RoleOwner, "acme")
		require.NoError(t, err)

		claims, err := mgr.ValidateAdminToken(token)
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, claims.Role)
		assert.True(t, claims.CanManageTenant("acme"))
		assert.False(t, claims.CanManageTenant("other"))
	})

	t.Run("admin manages every tenant", func(t *testing.T) {
		token, err := mgr.GenerateAdminToken("root@platform.test", RoleAdmin, "")
		require.NoError(t, err)

		claims, err := mgr.ValidateAdminToken(token)
		require.NoError(t, err)
		assert.True(t, claims.CanManageTenant("acme"))
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		token, err := mgr.GenerateAdminToken("viewer@acme.test", "viewer", "acme")
		require.NoError(t, err)

		_, err = mgr.ValidateAdminToken(token)
		assert.Error(t, err)
	})

	t.Run("owner without tenant manages nothing", func(t *testing.T) {
		claims := &AdminClaims{Role: RoleOwner}
		assert.False(t, claims.CanManageTenant(""))
	})
}
