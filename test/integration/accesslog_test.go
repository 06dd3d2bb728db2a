//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckd/internal/platform/db"
	"github.com/ckdcare/ckd/internal/platform/hipaa"
	"github.com/ckdcare/ckd/internal/platform/middleware"
)

func TestAccessLoggerWritesClinicSchema(t *testing.T) {
	tenantID := newTenant(t, "phi")
	other := newTenant(t, "phiother")
	logger := hipaa.NewAccessLogger(globalDB.Pool, 5*time.Second)
	patientID := uuid.New()

	entries := []middleware.AuditEntry{
		{
			UserID: "dr-okafor", UserRoles: []string{"physician"}, TenantID: tenantID,
			PatientID: patientID.String(), Resource: "consultations", Action: "create",
			Method: "POST", Path: "/api/v1/patients/" + patientID.String() + "/consultations",
			StatusCode: 201, Timestamp: time.Now().UTC(),
		},
		{
			UserID: "dr-okafor", TenantID: tenantID, Resource: "patient", Action: "read",
			Method: "GET", Path: "/api/v1/patients", StatusCode: 200,
		},
	}
	for _, e := range entries {
		if err := logger.RecordAccess(e); err != nil {
			t.Fatalf("record access: %v", err)
		}
	}

	count := func(tenant string) (total, forPatient int) {
		t.Helper()
		schema, _ := db.SchemaName(tenant)
		ctx := context.Background()
		if err := globalDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+schema+".phi_access_log").Scan(&total); err != nil {
			t.Fatalf("count: %v", err)
		}
		if err := globalDB.Pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM "+schema+".phi_access_log WHERE patient_id = $1", patientID).Scan(&forPatient); err != nil {
			t.Fatalf("count patient: %v", err)
		}
		return total, forPatient
	}

	if total, forPatient := count(tenantID); total != 2 || forPatient != 1 {
		t.Errorf("expected 2 entries with 1 for the patient, got %d/%d", total, forPatient)
	}
	if total, _ := count(other); total != 0 {
		t.Errorf("expected other clinic log to stay empty, got %d", total)
	}
}
