package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
)

// ClinicalStaff may read records and record consultations.
var ClinicalStaff = []string{RoleAdmin, RolePhysician, RoleNurse}

// RequireRole passes when the caller holds any of roles. Admin passes always.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(held []string, wanted ...string) bool {
	for _, has := range held {
		if has == RoleAdmin {
			return true
		}
		for _, w := range wanted {
			if has == w {
				return true
			}
		}
	}
	return false
}
