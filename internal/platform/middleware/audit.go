package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/auth"
)

// auditPrefix scopes auditing to the routes that touch HL7 content.
const auditPrefix = "/api/v1/hl7"

// AuditEntry records one access to HL7 content: who, what and with which
// outcome.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	Roles      []string
	Action     string
	FileID     string
	MessageRef string
	Method     string
	Route      string
	IPAddress  string
	UserAgent  string
	StatusCode int
}

// auditActions maps route templates to audit action names.
var auditActions = map[string]string{
	UploadPath:                                      "upload",
	"/api/v1/hl7/files":                             "list_files",
	"/api/v1/hl7/files/:fileId":                     "read_file",
	"/api/v1/hl7/files/:fileId/messages/:messageId": "read_message",
	"/api/v1/hl7/files/:fileId/messages/index/:n":   "read_message_by_index",
	"/api/v1/hl7v2/parse":                           "parse",
	"/api/v1/hl7v2/split":                           "split",
}

// Audit logs an hl7_audit event for every request under /api/v1/hl7 and
// /api/v1/hl7v2. Uploaded batches carry patient data, so reads and writes
// are both recorded.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, auditPrefix) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			evt := logger.Info()
			if entry.StatusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "hl7_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("roles", entry.Roles).
				Str("action", entry.Action).
				Str("file_id", entry.FileID).
				Str("message_ref", entry.MessageRef).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Msg("hl7_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		UserID:     auth.UserIDFromContext(req.Context()),
		Roles:      auth.RolesFromContext(req.Context()),
		Method:     req.Method,
		Route:      routePath(c),
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		StatusCode: statusOf(c, err),
		FileID:     c.Param("fileId"),
	}
	entry.RequestID, _ = c.Get("request_id").(string)

	if ref := c.Param("messageId"); ref != "" {
		entry.MessageRef = ref
	} else if n := c.Param("n"); n != "" {
		entry.MessageRef = "index:" + n
	}

	entry.Action = auditActions[entry.Route]
	if entry.Action == "" {
		entry.Action = "access"
	}
	return entry
}
