// Package tenancy carries the validated caller identity through a request.
// Upstream routing has already authenticated the caller; this package only
// moves (tenant, user, workspace) between transport and core code.
package tenancy

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"foodflow/copilot/pkg/ctxkeys"
)

var ErrNoTenant = errors.New("tenant identity missing from request")

type contextKey string

const (
	keyWorkspace contextKey = "copilot_workspace"
)

// Identity is the validated caller of one request.
type Identity struct {
	TenantID string
	UserID   string
}

// FromGin extracts the caller identity placed on the Gin context by the auth
// middleware. Falls back to gateway headers for service-to-service calls.
func FromGin(c *gin.Context) (Identity, error) {
	id := Identity{
		TenantID: c.GetString(string(ctxkeys.KeyTenantID)),
		UserID:   c.GetString(string(ctxkeys.KeyUserID)),
	}
	if id.TenantID == "" {
		id.TenantID = c.GetHeader("X-Tenant-ID")
	}
	if id.UserID == "" {
		id.UserID = c.GetHeader("X-User-ID")
	}
	if id.TenantID == "" {
		return Identity{}, ErrNoTenant
	}
	return id, nil
}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = ctxkeys.WithTenantID(ctx, id.TenantID)
	return ctxkeys.WithUserID(ctx, id.UserID)
}

// IdentityFrom reads the caller identity from the context. The zero Identity
// is returned when none is set.
func IdentityFrom(ctx context.Context) Identity {
	return Identity{
		TenantID: ctxkeys.GetTenantID(ctx),
		UserID:   ctxkeys.GetUserID(ctx),
	}
}

func WithWorkspace(ctx context.Context, workspace string) context.Context {
	return context.WithValue(ctx, keyWorkspace, workspace)
}

func GetWorkspace(ctx context.Context) string {
	if v, ok := ctx.Value(keyWorkspace).(string); ok {
		return v
	}
	return ""
}
