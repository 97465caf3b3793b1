package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const OrgIDKey contextKey = "organization_id"

// OrgHeader carries the organization scope for list and category calls.
const OrgHeader = "X-Organization-ID"

var orgIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// OrganizationMiddleware resolves the optional organization scope of a
// request. Requests without one operate on the global taxonomy.
func OrganizationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			orgID := extractOrgID(c)
			if orgID == "" {
				return next(c)
			}
			if !orgIDPattern.MatchString(orgID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid organization identifier")
			}

			ctx := WithOrg(c.Request().Context(), orgID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("organization_id", orgID)
			return next(c)
		}
	}
}

func extractOrgID(c echo.Context) string {
	// JWT claim wins over caller-supplied values.
	if oid, ok := c.Get("jwt_org_id").(string); ok && oid != "" {
		return oid
	}
	if oid := c.Request().Header.Get(OrgHeader); oid != "" {
		return oid
	}
	return c.QueryParam("org")
}

func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// OrgFromContext returns the organization scope, or "" for global.
func OrgFromContext(ctx context.Context) string {
	oid, _ := ctx.Value(OrgIDKey).(string)
	return oid
}
