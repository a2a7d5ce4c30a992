package messages

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/auth"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/middleware"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/openapi"
)

// UploadField is the multipart form field carrying the uploaded file.
const UploadField = "hl7-message"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the HL7 endpoints on the /api/v1 group. uploadMW
// applies to the upload route only.
//
//	POST /api/v1/hl7/upload
//	GET  /api/v1/hl7/files
//	GET  /api/v1/hl7/files/:fileId
//	GET  /api/v1/hl7/files/:fileId/messages/:messageId
//	GET  /api/v1/hl7/files/:fileId/messages/index/:n
func (h *Handler) RegisterRoutes(api *echo.Group, uploadMW ...echo.MiddlewareFunc) {
	g := api.Group("/hl7")
	g.POST("/upload", h.Upload, uploadMW...)
	g.GET("/files", h.ListFiles)
	g.GET("/files/:fileId", h.GetFile)
	g.GET("/files/:fileId/messages/:messageId", h.GetMessageByID)
	g.GET("/files/:fileId/messages/index/:n", h.GetMessageByIndex)
}

func (h *Handler) Upload(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile(UploadField)
	if err != nil {
		var apiErr *middleware.APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return h.apiError(c, newError(KindAdmission, "upload", ErrMissingFile))
	}

	src, err := fh.Open()
	if err != nil {
		return h.apiError(c, newError(KindAdmission, "upload", ErrUnreadableContent))
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return h.apiError(c, newError(KindAdmission, "upload", ErrUnreadableContent))
	}

	res, err := h.svc.Upload(c.Request().Context(), Upload{
		UserID:   userID,
		FileName: fh.Filename,
		Content:  content,
	})
	if err != nil {
		return h.apiError(c, err)
	}
	return c.String(http.StatusCreated, res.Confirmation())
}

func (h *Handler) ListFiles(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	files, err := h.svc.ListFiles(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("listing files failed")
		return middleware.NewAPIError(http.StatusBadRequest, "REGISTRY_ERROR",
			"There was an error retrieving uploaded files")
	}
	if len(files) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, files)
}

func (h *Handler) GetFile(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetFile(c.Request().Context(), userID, c.Param("fileId"))
	if err != nil {
		return h.apiError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) GetMessageByID(c echo.Context) error {
	ref, err := ParseIDRef(c.Param("messageId"))
	if err != nil {
		return h.apiError(c, err)
	}
	return h.getMessage(c, ref)
}

func (h *Handler) GetMessageByIndex(c echo.Context) error {
	ref, err := ParseIndexRef(c.Param("n"))
	if err != nil {
		return h.apiError(c, err)
	}
	return h.getMessage(c, ref)
}

func (h *Handler) getMessage(c echo.Context, ref MessageRef) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMessage(c.Request().Context(), userID, c.Param("fileId"), ref)
	if err != nil {
		return h.apiError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func currentUser(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", middleware.NewAPIError(http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	}
	return userID, nil
}

// apiError maps a domain error to the response error. Server side causes are
// logged here and replaced by a generic message.
func (h *Handler) apiError(c echo.Context, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}

	switch e.Kind {
	case KindAdmission:
		switch {
		case errors.Is(e, ErrNameConflict):
			return middleware.NewAPIError(http.StatusConflict, "NAME_CONFLICT", ErrNameConflict.Error())
		case errors.Is(e, ErrUnsupportedType):
			return middleware.NewAPIError(http.StatusBadRequest, "UNSUPPORTED_TYPE", ErrUnsupportedType.Error())
		case errors.Is(e, ErrNameTooLong):
			return middleware.NewAPIError(http.StatusBadRequest, "NAME_TOO_LONG", ErrNameTooLong.Error())
		case errors.Is(e, ErrUnreadableContent):
			return middleware.NewAPIError(http.StatusBadRequest, "UNREADABLE_CONTENT", ErrUnreadableContent.Error())
		default:
			return middleware.NewAPIError(http.StatusBadRequest, "MISSING_FILE", ErrMissingFile.Error())
		}
	case KindLookup:
		return middleware.NewAPIError(http.StatusBadRequest, "INVALID_INDEX", e.Err.Error())
	case KindNotFound:
		if errors.Is(e, ErrMessageNotFound) {
			return middleware.NewAPIError(http.StatusNotFound, "MESSAGE_NOT_FOUND", ErrMessageNotFound.Error())
		}
		return middleware.NewAPIError(http.StatusNotFound, "FILE_NOT_FOUND", ErrFileNotFound.Error())
	}

	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).
		Str("request_id", rid).
		Str("op", e.Op).
		Msg("request failed")
	if e.Op == "ingest" || e.Op == "admit" {
		return middleware.NewAPIError(http.StatusInternalServerError, "INGESTION_FAILED",
			"There was an error processing the uploaded file")
	}
	return middleware.NewAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// DescribeRoutes documents the HL7 endpoints on g.
func (h *Handler) DescribeRoutes(g *openapi.Generator) {
	g.AddSchema("FileList", map[string]interface{}{
		"type":  "array",
		"items": map[string]string{"$ref": "#/components/schemas/File"},
	})
	g.AddSchema("File", map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":           map[string]string{"type": "string", "format": "uuid"},
			"filename":     map[string]string{"type": "string"},
			"status":       map[string]interface{}{"type": "string", "enum": []FileStatus{StatusPending, StatusIngested, StatusFailed}},
			"messageCount": map[string]string{"type": "integer"},
			"uploadedAt":   map[string]string{"type": "string", "format": "date-time"},
			"size":         map[string]string{"type": "integer"},
			"sha256":       map[string]string{"type": "string"},
		},
	})
	g.AddSchema("Message", map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":                   map[string]string{"type": "string", "format": "uuid"},
			"fileId":               map[string]string{"type": "string", "format": "uuid"},
			"messageNumWithinFile": map[string]string{"type": "integer"},
			"rawMessage":           map[string]string{"type": "string"},
			"parsedMessage":        map[string]string{"type": "array"},
			"createdAt":            map[string]string{"type": "string", "format": "date-time"},
		},
	})

	g.Describe(http.MethodPost, "/api/v1/hl7/upload", openapi.Operation{
		Summary:   "Upload a batch file of HL7 messages",
		Tag:       "HL7",
		FileField: UploadField,
		Responses: map[int]string{
			http.StatusCreated:         "File stored and messages ingested",
			http.StatusBadRequest:      "Missing file, unsupported type or unreadable content",
			http.StatusConflict:        "A file with that name already exists",
			http.StatusTooManyRequests: "Upload rate limit exceeded",
		},
	})
	g.Describe(http.MethodGet, "/api/v1/hl7/files", openapi.Operation{
		Summary: "List the caller's files, newest first",
		Tag:     "HL7",
		Schema:  "FileList",
		Responses: map[int]string{
			http.StatusOK:        "Files",
			http.StatusNoContent: "The caller has no files",
		},
	})
	g.Describe(http.MethodGet, "/api/v1/hl7/files/:fileId", openapi.Operation{
		Summary: "Get one file",
		Tag:     "HL7",
		Schema:  "File",
		Responses: map[int]string{
			http.StatusOK:       "File",
			http.StatusNotFound: "No such file",
		},
	})
	g.Describe(http.MethodGet, "/api/v1/hl7/files/:fileId/messages/:messageId", openapi.Operation{
		Summary: "Get a message by identifier",
		Tag:     "HL7",
		Schema:  "Message",
		Responses: map[int]string{
			http.StatusOK:         "Message",
			http.StatusBadRequest: "Malformed message identifier",
			http.StatusNotFound:   "No such file or message",
		},
	})
	g.Describe(http.MethodGet, "/api/v1/hl7/files/:fileId/messages/index/:n", openapi.Operation{
		Summary: "Get a message by zero-based position",
		Tag:     "HL7",
		Schema:  "Message",
		Responses: map[int]string{
			http.StatusOK:         "Message",
			http.StatusBadRequest: "Malformed index",
			http.StatusNotFound:   "No such file or message",
		},
	})
}
