// Package reporting evaluates clinic-wide measures over the consultation and
// alert tables of the caller's clinic.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckd/internal/platform/auth"
	"github.com/ckdcare/ckd/internal/platform/db"
)

// Parameter is a query-string input bound positionally into a measure's SQL.
type Parameter struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default string `json:"default"`
}

type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters"`
}

type MeasureReport struct {
	MeasureID   string            `json:"measure_id"`
	MeasureName string            `json:"measure_name"`
	GeneratedAt time.Time         `json:"generated_at"`
	Results     []map[string]any  `json:"results"`
	Parameters  map[string]string `json:"parameters"`
}

var (
	ErrUnknownMeasure = errors.New("measure not found")
	ErrBadParameter   = errors.New("invalid measure parameter")
)

var sinceParam = Parameter{Name: "since", Type: "date", Default: "1970-01-01"}

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Registered patients and how many have at least one active alert",
		SQL: `SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM alert a WHERE a.patient_id = p.id AND a.status = 'active'
			)) AS with_active_alerts
			FROM patient p`,
		Parameters: []Parameter{},
	},
	{
		ID:          "alerts-by-kind",
		Name:        "Alerts by Kind",
		Description: "Alerts triggered since a date, grouped by rule kind and status",
		SQL: `SELECT kind, status, COUNT(*) AS total FROM alert
			WHERE triggered_at >= $1
			GROUP BY kind, status ORDER BY kind, status`,
		Parameters: []Parameter{sinceParam},
	},
	{
		ID:          "active-alerts-by-patient",
		Name:        "Patients with Active Alerts",
		Description: "Patients ranked by number of active alerts",
		SQL: `SELECT a.patient_id::text AS patient_id, p.last_name, p.first_name,
			COUNT(*) AS active_alerts, MAX(a.triggered_at) AS last_triggered_at
			FROM alert a JOIN patient p ON p.id = a.patient_id
			WHERE a.status = 'active'
			GROUP BY a.patient_id, p.last_name, p.first_name
			ORDER BY active_alerts DESC, last_triggered_at DESC
			LIMIT $1`,
		Parameters: []Parameter{{Name: "limit", Type: "int", Default: "50"}},
	},
	{
		ID:          "consultation-volume",
		Name:        "Consultation Volume",
		Description: "Consultations recorded per month since a date",
		SQL: `SELECT date_trunc('month', consulted_at) AS month, COUNT(*) AS total,
			COUNT(DISTINCT patient_id) AS patients
			FROM consultation WHERE consulted_at >= $1
			GROUP BY 1 ORDER BY 1`,
		Parameters: []Parameter{sinceParam},
	},
}

func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// bind resolves raw query values against the measure's parameters, filling
// defaults. It returns the SQL arguments and the effective values.
func (m *MeasureDefinition) bind(raw map[string]string) ([]any, map[string]string, error) {
	args := make([]any, 0, len(m.Parameters))
	effective := make(map[string]string, len(m.Parameters))
	for _, p := range m.Parameters {
		v := raw[p.Name]
		if v == "" {
			v = p.Default
		}
		arg, err := parseParam(p, v)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, arg)
		effective[p.Name] = v
	}
	return args, effective, nil
}

func parseParam(p Parameter, v string) (any, error) {
	switch p.Type {
	case "date":
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrBadParameter, p.Name)
		}
		return t, nil
	case "int":
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return nil, fmt.Errorf("%w: %s must be an integer between 1 and 1000", ErrBadParameter, p.Name)
		}
		return n, nil
	}
	return v, nil
}

type Handler struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	raw := map[string]string{}
	for name, values := range c.QueryParams() {
		if len(values) > 0 {
			raw[name] = values[0]
		}
	}

	report, err := h.Evaluate(c.Request().Context(), c.Param("id"), raw)
	switch {
	case errors.Is(err, ErrUnknownMeasure):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBadParameter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		c.Logger().Error(err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "measure evaluation failed")
	}
	return c.JSON(http.StatusOK, report)
}

// Evaluate runs measure id on the clinic connection bound to ctx.
func (h *Handler) Evaluate(ctx context.Context, id string, raw map[string]string) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMeasure, id)
	}
	args, effective, err := m.bind(raw)
	if err != nil {
		return nil, err
	}

	results, err := collect(ctx, db.Conn(ctx, h.pool), m.SQL, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
		Parameters:  effective,
	}, nil
}

func collect(ctx context.Context, q db.Querier, sql string, args []any) ([]map[string]any, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
