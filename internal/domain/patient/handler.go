package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckd/internal/platform/auth"
	"github.com/ckdcare/ckd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.List, auth.RequireRole(auth.ClinicalStaff...))
	api.POST("/patients", h.Register, auth.RequireRole(auth.RoleAdmin, auth.RolePhysician))
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	p, err := h.svc.Register(c.Request().Context(), in)
	if errors.Is(err, ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not register patient").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not list patients").SetInternal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}
