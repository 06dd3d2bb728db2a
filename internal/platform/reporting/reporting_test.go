package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"patient-count",
		"alerts-by-kind",
		"active-alerts-by-patient",
		"consultation-volume",
	}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, id := range expectedIDs {
		if PredefinedMeasures[i].ID != id {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, id, PredefinedMeasures[i].ID)
		}
	}
}

func TestPredefinedMeasures_PlaceholdersMatchParameters(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		for i := range m.Parameters {
			placeholder := "$" + string(rune('1'+i))
			if !strings.Contains(m.SQL, placeholder) {
				t.Errorf("measure %s does not use %s", m.ID, placeholder)
			}
		}
		if next := "$" + string(rune('1'+len(m.Parameters))); strings.Contains(m.SQL, next) {
			t.Errorf("measure %s references unbound %s", m.ID, next)
		}
	}
}

func TestFindMeasure(t *testing.T) {
	if m := FindMeasure("alerts-by-kind"); m == nil || m.Name != "Alerts by Kind" {
		t.Fatalf("expected alerts-by-kind, got %+v", m)
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for unknown measure")
	}
}

func TestBind_Defaults(t *testing.T) {
	args, effective, err := FindMeasure("alerts-by-kind").bind(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	since, ok := args[0].(time.Time)
	if !ok || since.Year() != 1970 {
		t.Errorf("expected default since of 1970-01-01, got %v", args[0])
	}
	if effective["since"] != "1970-01-01" {
		t.Errorf("expected effective since to be reported, got %v", effective)
	}
}

func TestBind_Values(t *testing.T) {
	args, _, err := FindMeasure("active-alerts-by-patient").bind(map[string]string{"limit": "5", "ignored": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 1 || args[0] != 5 {
		t.Errorf("expected [5], got %v", args)
	}
}

func TestBind_Rejects(t *testing.T) {
	tests := []struct {
		measure string
		raw     map[string]string
	}{
		{"alerts-by-kind", map[string]string{"since": "last week"}},
		{"consultation-volume", map[string]string{"since": "2026-13-01"}},
		{"active-alerts-by-patient", map[string]string{"limit": "0"}},
		{"active-alerts-by-patient", map[string]string{"limit": "5000"}},
		{"active-alerts-by-patient", map[string]string{"limit": "ten"}},
	}
	for _, tt := range tests {
		if _, _, err := FindMeasure(tt.measure).bind(tt.raw); !errors.Is(err, ErrBadParameter) {
			t.Errorf("%s %v: expected ErrBadParameter, got %v", tt.measure, tt.raw, err)
		}
	}
}

func TestEvaluate_UnknownMeasure(t *testing.T) {
	h := NewHandler(nil)
	if _, err := h.Evaluate(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownMeasure) {
		t.Fatalf("expected ErrUnknownMeasure, got %v", err)
	}
}

func TestEvaluateMeasure_HTTPErrors(t *testing.T) {
	tests := []struct {
		id, query string
		want      int
	}{
		{"nope", "", http.StatusNotFound},
		{"alerts-by-kind", "?since=yesterday", http.StatusBadRequest},
	}
	for _, tt := range tests {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/reports/measures/"+tt.id+"/evaluate"+tt.query, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(tt.id)

		err := NewHandler(nil).EvaluateMeasure(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != tt.want {
			t.Errorf("%s%s: expected %d, got %v", tt.id, tt.query, tt.want, err)
		}
	}
}

func TestListMeasures_HidesSQL(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/reports/measures", nil), rec)

	if err := NewHandler(nil).ListMeasures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(PredefinedMeasures) {
		t.Fatalf("expected %d measures, got %d", len(PredefinedMeasures), len(out))
	}
	if _, ok := out[0]["SQL"]; ok {
		t.Error("SQL must not be exposed")
	}
	if _, ok := out[1]["parameters"]; !ok {
		t.Error("expected parameters to be listed")
	}
}
