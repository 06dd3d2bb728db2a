package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "renal_clinic")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if tid := extractTenantID(c, "default"); tid != "renal_clinic" {
		t.Errorf("expected renal_clinic, got %s", tid)
	}
}

func TestExtractTenantID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=dialysis_unit", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if tid := extractTenantID(c, "default"); tid != "dialysis_unit" {
		t.Errorf("expected dialysis_unit, got %s", tid)
	}
}

func TestExtractTenantID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=query", nil)
	req.Header.Set("X-Tenant-ID", "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_tenant_id", "jwt")

	if tid := extractTenantID(c, "default"); tid != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", tid)
	}
}

func TestExtractTenantID_EmptyJWTFallsThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "header_tenant")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_tenant_id", "")

	if tid := extractTenantID(c, "default"); tid != "header_tenant" {
		t.Errorf("expected header_tenant when JWT is empty, got %s", tid)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if tid := extractTenantID(c, "default"); tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"abc", "tenant_abc", true},
		{"clinic_1", "tenant_clinic_1", true},
		{"A1B2", "tenant_A1B2", true},
		{"a-b", "", false},
		{"a.b", "", false},
		{"a b", "", false},
		{"'; DROP TABLE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := SchemaName(tt.input)
		if tt.ok && err != nil {
			t.Errorf("SchemaName(%q) unexpected error: %v", tt.input, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("SchemaName(%q) expected error", tt.input)
		}
		if got != tt.want {
			t.Errorf("SchemaName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "test_tenant")
	if tid := TenantFromContext(ctx); tid != "test_tenant" {
		t.Errorf("expected test_tenant, got %s", tid)
	}
	if empty := TenantFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "tenant.with.dot", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, pgx.TxOptions{}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
	if called {
		t.Error("fn must not run without a connection")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if IsForeignKeyViolation(errors.New("boom")) {
		t.Error("plain error must not be reported as FK violation")
	}
	wrapped := fmt.Errorf("insert consultation: %w", &pgconn.PgError{Code: "23503"})
	if !IsForeignKeyViolation(wrapped) {
		t.Error("expected wrapped 23503 to be reported as FK violation")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation must not be reported as FK violation")
	}
	if IsForeignKeyViolation(nil) {
		t.Error("nil must not be reported as FK violation")
	}
}
