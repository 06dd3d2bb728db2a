package clinical

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckd/internal/domain/patient"
	"github.com/ckdcare/ckd/internal/platform/auth"
	"github.com/ckdcare/ckd/pkg/pagination"
)

type Handler struct {
	ingest  *IngestionService
	records *RecordService
}

func NewHandler(ingest *IngestionService, records *RecordService) *Handler {
	return &Handler{ingest: ingest, records: records}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:id", auth.RequireRole(auth.ClinicalStaff...))
	g.GET("", h.GetRecord)
	g.GET("/report", h.GetReport)
	g.POST("/consultations", h.CreateConsultation)
	g.GET("/consultations", h.ListConsultations)
	g.GET("/alerts", h.ListAlerts)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

// httpError maps pipeline errors onto status codes. Unknown patients are 404
// even when they arrive wrapped in a ValidationError.
func httpError(err error) error {
	switch {
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "record store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func (h *Handler) CreateConsultation(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in ConsultationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	res, err := h.ingest.Ingest(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rec, err := h.records.PatientRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rep, err := h.records.Report(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListConsultations(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	list, total, err := h.records.Consultations(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var status AlertStatus
	if raw := c.QueryParam("status"); raw != "" {
		var ok bool
		if status, ok = ParseAlertStatus(raw); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be active or resolved")
		}
	}
	pg := pagination.FromContext(c)
	list, total, err := h.records.Alerts(c.Request().Context(), id, status, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}
