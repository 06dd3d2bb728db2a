//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ckdcare/ckd/internal/platform/reporting"
)

func TestClinicMeasures(t *testing.T) {
	tenantID := newTenant(t, "measures")
	amina := createTestPatient(t, tenantID, "Amina", "Diallo")
	createTestPatient(t, tenantID, "Kwame", "Boateng")
	pl := newPipeline()
	h := reporting.NewHandler(globalDB.Pool)
	at := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

	err := withTenantConn(context.Background(), tenantID, func(ctx context.Context) error {
		if _, err := pl.ingest.Ingest(ctx, amina.ID, consultationAt(at, 1.5, 150, 85)); err != nil {
			return err
		}

		count, err := h.Evaluate(ctx, "patient-count", nil)
		if err != nil {
			return err
		}
		row := count.Results[0]
		if row["total"] != int64(2) || row["with_active_alerts"] != int64(1) {
			t.Errorf("unexpected patient-count row %v", row)
		}

		byKind, err := h.Evaluate(ctx, "alerts-by-kind", map[string]string{"since": "2026-01-01"})
		if err != nil {
			return err
		}
		if len(byKind.Results) != 2 {
			t.Fatalf("expected 2 kind rows, got %v", byKind.Results)
		}
		if byKind.Results[0]["kind"] != "BloodPressureHigh" || byKind.Results[1]["kind"] != "CreatinineHigh" {
			t.Errorf("unexpected kind ordering %v", byKind.Results)
		}

		later, err := h.Evaluate(ctx, "alerts-by-kind", map[string]string{"since": "2027-01-01"})
		if err != nil {
			return err
		}
		if len(later.Results) != 0 {
			t.Errorf("expected no alerts after 2027, got %v", later.Results)
		}

		ranked, err := h.Evaluate(ctx, "active-alerts-by-patient", nil)
		if err != nil {
			return err
		}
		if len(ranked.Results) != 1 || ranked.Results[0]["patient_id"] != amina.ID.String() {
			t.Errorf("unexpected ranking %v", ranked.Results)
		}

		volume, err := h.Evaluate(ctx, "consultation-volume", nil)
		if err != nil {
			return err
		}
		if len(volume.Results) != 1 || volume.Results[0]["total"] != int64(1) {
			t.Errorf("unexpected volume %v", volume.Results)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
