package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/openapi"
)

// Handler provides HTTP endpoints that run the parser without persisting
// anything.
type Handler struct {
	parser Parser
}

// NewHandler creates a new HL7v2 handler backed by the given parser.
func NewHandler(parser Parser) *Handler {
	return &Handler{parser: parser}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/parse  - Parse one HL7v2 message to its JSON tree
//	POST /api/v1/hl7v2/split  - Split a batch of messages without parsing
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
	g.POST("/hl7v2/split", h.SplitBatch)
}

type parseResponse struct {
	Type      string `json:"type"`
	ControlID string `json:"controlId"`
	Version   string `json:"version"`
	Children  []Node `json:"children"`
}

// ParseMessage handles POST /api/v1/hl7v2/parse.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	tree, err := h.parser.Parse(string(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse HL7v2 message: "+err.Error())
	}

	return c.JSON(http.StatusOK, parseResponse{
		Type:      tree.Type,
		ControlID: tree.ControlID,
		Version:   tree.Version,
		Children:  tree.Children,
	})
}

// SplitBatch handles POST /api/v1/hl7v2/split.
func (h *Handler) SplitBatch(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	messages := SplitMessages(string(body))
	if messages == nil {
		messages = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":    len(messages),
		"messages": messages,
	})
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}
	return body, nil
}

// DescribeRoutes documents the parser endpoints on g.
func (h *Handler) DescribeRoutes(g *openapi.Generator) {
	g.Describe(http.MethodPost, "/api/v1/hl7v2/parse", openapi.Operation{
		Summary:   "Parse one HL7v2 message without storing it",
		Tag:       "HL7v2",
		RawBody:   "text/plain",
		Responses: map[int]string{http.StatusOK: "Parse tree", http.StatusBadRequest: "Malformed message"},
	})
	g.Describe(http.MethodPost, "/api/v1/hl7v2/split", openapi.Operation{
		Summary:   "Split a batch into raw messages without storing it",
		Tag:       "HL7v2",
		RawBody:   "text/plain",
		Responses: map[int]string{http.StatusOK: "Raw messages"},
	})
}
