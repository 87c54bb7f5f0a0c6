package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	if claims.Subject == "" {
		claims.Subject = "user-1"
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func wrapped(mw *Middleware, captured *Identity) http.Handler {
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = IdentityFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddleware_NoTokenRejected(t *testing.T) {
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faults?device_id=m-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestMiddleware_WrongSecretRejected(t *testing.T) {
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)), nil)
	token := signToken(t, []byte("other-secret"), Claims{TenantID: "tenant-a", Role: "viewer"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faults?device_id=m-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: expected 401, got %d", resp.Code)
	}
}

func TestMiddleware_UnknownRoleRejected(t *testing.T) {
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)), nil)
	token := signToken(t, testSecret, Claims{TenantID: "tenant-a", Role: "superuser"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faults?device_id=m-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("unknown role: expected 401, got %d", resp.Code)
	}
}

func TestMiddleware_ViewerCannotRecompute(t *testing.T) {
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)), nil)
	token := signToken(t, testSecret, Claims{TenantID: "tenant-a", Role: "viewer"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/recompute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestMiddleware_OperatorIdentityReachesHandler(t *testing.T) {
	var id Identity
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy(nil, nil)), &id)
	token := signToken(t, testSecret, Claims{
		TenantID: "tenant-a",
		Role:     "operator",
		Plan:     "pro",
		Meters:   []string{"m-1", "m-2"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/recompute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if id.TenantID != "tenant-a" || id.Role != RoleOperator || id.Plan != "pro" {
		t.Fatalf("identity not propagated: %+v", id)
	}
	if !id.AllowsMeter("m-2") || id.AllowsMeter("m-9") {
		t.Fatalf("meter scope not propagated: %+v", id.Meters)
	}
}

func TestMiddleware_ExemptPathsSkipAuth(t *testing.T) {
	handler := wrapped(NewMiddleware(testSecret, NewDefaultPolicy([]string{"/healthz"}, []string{"/ingest/"})), nil)

	for _, path := range []string{"/healthz", "/ingest/telemetry"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.Code)
		}
	}
}

func TestIdentity_AllowsMeter(t *testing.T) {
	unscoped := Identity{TenantID: "tenant-a"}
	if !unscoped.AllowsMeter("m-1") {
		t.Fatalf("empty scope must cover every device")
	}

	scoped := Identity{TenantID: "tenant-a", Meters: []string{"m-1"}}
	if !scoped.AllowsMeter("m-1") || scoped.AllowsMeter("m-2") {
		t.Fatalf("scope must cover exactly the listed meters")
	}
}
