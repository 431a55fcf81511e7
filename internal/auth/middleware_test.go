package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWidgetMiddleware(t *testing.T) {
	mgr := NewJWTManager(testWidgetSecret, testAdminSecret, time.Hour, time.Hour)
	var seen *WidgetClaims
	handler := WidgetMiddleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetWidgetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := mgr.GenerateWidgetToken("bot-1", "tenant-1")
	require.NoError(t, err)

	t.Run("header token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
		req.Header.Set("X-Client-Token", token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "bot-1", seen.ClientID)
	})

	t.Run("query token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat/message?token="+token, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
		req.Header.Set("X-Client-Token", "garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminMiddleware(t *testing.T) {
	mgr := NewJWTManager(testWidgetSecret, testAdminSecret, time.Hour, time.Hour)
	handler := AdminMiddleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAdminClaims(r.Context()) == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	token, err := mgr.GenerateAdminToken("root@platform.test", RoleAdmin, "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/admin/entities/client/bot-1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/admin/entities/client/bot-1/usage", nil)
	req.Header.Set("Authorization", "Token "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeDirectory struct {
	owners map[string]string
	err    error
}

func (d fakeDirectory) OwnerTenant(_ context.Context, clientID string) (string, bool, error) {
	if d.err != nil {
		return "", false, d.err
	}
	owner, ok := d.owners[clientID]
	return owner, ok, nil
}

func TestHandler_IssueWidgetToken(t *testing.T) {
	mgr := NewJWTManager(testWidgetSecret, testAdminSecret, time.Hour, time.Hour)
	h := NewHandler(mgr, fakeDirectory{owners: map[string]string{
		"bot-1":  "acme",
		"rival":  "globex",
		"orphan": "",
	}})

	issue := func(claims *AdminClaims, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/admin/widget-tokens", strings.NewReader(body))
		if claims != nil {
			req = req.WithContext(WithAdminClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.IssueWidgetToken(rec, req)
		return rec
	}

	t.Run("owner issues for own tenant", func(t *testing.T) {
		rec := issue(&AdminClaims{Role: RoleOwner, TenantID: "acme"}, `{"client_id":"bot-1","tenant_id":"acme"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var body struct {
			Data WidgetTokenResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		claims, err := mgr.ValidateWidgetToken(body.Data.Token)
		require.NoError(t, err)
		assert.Equal(t, "bot-1", claims.ClientID)
		assert.Equal(t, "acme", claims.TenantID)
	})

	t.Run("owner cannot issue for other tenant", func(t *testing.T) {
		rec := issue(&AdminClaims{Role: RoleOwner, TenantID: "acme"}, `{"client_id":"bot-1","tenant_id":"globex"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner tenant defaults to own", func(t *testing.T) {
		rec := issue(&AdminClaims{Role: RoleOwner, TenantID: "acme"}, `{"client_id":"bot-1"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			Data WidgetTokenResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "acme", body.Data.TenantID)
	})

	t.Run("owner cannot issue for another tenant's client", func(t *testing.T) {
		for _, body := range []string{
			`{"client_id":"rival","tenant_id":"acme"}`,
			`{"client_id":"rival"}`,
			`{"client_id":"orphan","tenant_id":"acme"}`,
			`{"client_id":"unknown","tenant_id":"acme"}`,
		} {
			rec := issue(&AdminClaims{Role: RoleOwner, TenantID: "acme"}, body)
			assert.Equal(t, http.StatusForbidden, rec.Code, body)
		}
	})

	t.Run("admin token carries recorded owner", func(t *testing.T) {
		rec := issue(&AdminClaims{Role: RoleAdmin}, `{"client_id":"rival"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			Data WidgetTokenResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "globex", body.Data.TenantID)

		rec = issue(&AdminClaims{Role: RoleAdmin}, `{"client_id":"rival","tenant_id":"acme"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = issue(&AdminClaims{Role: RoleAdmin}, `{"client_id":"unknown","tenant_id":"acme"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("directory unavailable", func(t *testing.T) {
		down := NewHandler(mgr, fakeDirectory{err: errors.New("connection refused")})
		req := httptest.NewRequest("POST", "/api/v1/admin/widget-tokens", strings.NewReader(`{"client_id":"bot-1"}`))
		req = req.WithContext(WithAdminClaims(req.Context(), &AdminClaims{Role: RoleAdmin}))
		rec := httptest.NewRecorder()
		down.IssueWidgetToken(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing client id", func(t *testing.T) {
		rec := issue(&AdminClaims{Role: RoleAdmin}, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no claims", func(t *testing.T) {
		rec := issue(nil, `{"client_id":"bot-1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
