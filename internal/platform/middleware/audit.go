package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckd/internal/platform/auth"
)

const patientsPrefix = "/api/v1/patients"

// AuditEntry records who touched which patient's record, how, and the outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	PatientID  string
	Resource   string // patient, consultations, alerts, report
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log stream.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every access to patient records. A recorder, when given, gets
// the entry as well; its failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, patientsPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			patientID, resource := splitPatientPath(req.URL.Path)
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				PatientID:  patientID,
				Resource:   resource,
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.TenantID, _ = c.Get("tenant_id").(string)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("patient_id", entry.PatientID).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitPatientPath extracts the patient id and sub-resource from
// /api/v1/patients[/<uuid>[/<resource>]].
func splitPatientPath(path string) (patientID, resource string) {
	rest := strings.Trim(strings.TrimPrefix(path, patientsPrefix), "/")
	if rest == "" {
		return "", "patient"
	}
	segments := strings.Split(rest, "/")
	if _, err := uuid.Parse(segments[0]); err == nil {
		patientID = segments[0]
	}
	if len(segments) > 1 && segments[1] != "" {
		return patientID, segments[1]
	}
	return patientID, "patient"
}
