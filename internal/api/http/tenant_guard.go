package apihttp

import (
	"errors"
	"net/http"

	"nexusgrid/internal/auth"
)

// TenantGuard rejects requests whose device does not belong to the caller's
// tenant or falls outside the token's meter scope. Requests without a
// device_id parameter pass through; the wrapped handler rejects those
// itself. An identity without a tenant id (service tokens) is not
// restricted.
type TenantGuard struct {
	checker auth.DeviceTenantChecker
}

// NewTenantGuard constructs a TenantGuard. A nil checker disables the guard.
func NewTenantGuard(checker auth.DeviceTenantChecker) *TenantGuard {
	return &TenantGuard{checker: checker}
}

// Wrap applies the tenant and scope checks before the wrapped handler runs.
func (g *TenantGuard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g == nil || g.checker == nil {
			next.ServeHTTP(w, r)
			return
		}
		deviceID := r.URL.Query().Get("device_id")
		identity := auth.IdentityFromContext(r.Context())
		if deviceID == "" || identity.TenantID == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !identity.AllowsMeter(deviceID) {
			http.Error(w, "device outside token scope", http.StatusForbidden)
			return
		}
		if err := g.checker.EnsureDeviceTenant(r.Context(), identity.TenantID, deviceID); err != nil {
			switch {
			case errors.Is(err, auth.ErrTenantMismatch):
				http.Error(w, "device belongs to another tenant", http.StatusForbidden)
			case errors.Is(err, auth.ErrNotFound):
				http.Error(w, "unknown device", http.StatusNotFound)
			default:
				http.Error(w, "tenant check error", http.StatusInternalServerError)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
