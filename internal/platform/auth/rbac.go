package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequirePractice rejects callers whose token does not list the practice
// named by the path parameter. Admins may access every practice.
func RequirePractice(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if hasAnyRole(RolesFromContext(ctx), "admin") {
				return next(c)
			}
			id := c.Param(param)
			for _, p := range PracticesFromContext(ctx) {
				if p == id || p == "*" {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("no access to practice %s", id))
		}
	}
}

// hasAnyRole treats admin as holding every role.
func hasAnyRole(userRoles []string, roles ...string) bool {
	for _, has := range userRoles {
		if has == "admin" {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}
