package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// TenantHeader carries the school scope of a request.
const TenantHeader = "X-Tenant-ID"

const localTenantID = "tenant_id"

type tenantIDKey struct{}

var tenantKey = tenantIDKey{}

// Tenant resolves the tenant for every request from the X-Tenant-ID header,
// falling back to the configured default tenant.
func Tenant(defaultTenant string) fiber.Handler {
	defaultTenant = strings.ToLower(strings.TrimSpace(defaultTenant))

	return func(c *fiber.Ctx) error {
		tenant := strings.ToLower(strings.TrimSpace(c.Get(TenantHeader)))
		if tenant != "" && !ValidTenantID(tenant) {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid tenant id")
		}
		if tenant == "" {
			tenant = defaultTenant
		}

		bindTenant(c, tenant)
		return c.Next()
	}
}

// tenantMatchesToken pins a tenant bound to a bearer token. It reports false
// when an explicit header names a different tenant.
func tenantMatchesToken(c *fiber.Ctx, bound string) bool {
	requested := strings.ToLower(strings.TrimSpace(c.Get(TenantHeader)))
	if requested != "" && requested != bound {
		return false
	}
	bindTenant(c, bound)
	return true
}

func bindTenant(c *fiber.Ctx, tenant string) {
	c.Locals(localTenantID, tenant)
	c.SetUserContext(context.WithValue(c.UserContext(), tenantKey, tenant))
}

// TenantID returns the tenant resolved for the active request.
func TenantID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if tenant, ok := c.Locals(localTenantID).(string); ok {
		return tenant
	}
	return ""
}

// TenantIDFromContext extracts the tenant stored by the Tenant middleware.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if tenant, ok := ctx.Value(tenantKey).(string); ok {
		return tenant
	}
	return ""
}

// ValidTenantID accepts DNS-label style identifiers.
func ValidTenantID(id string) bool {
	if id == "" || len(id) > 63 {
		return false
	}
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '-' || r == '_') && i > 0:
		default:
			return false
		}
	}
	return true
}
