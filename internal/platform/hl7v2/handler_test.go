package hl7v2

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

// =========== Handler Tests ===========

func TestHandler_ParseMessage(t *testing.T) {
	h := NewHandler(NewEngine())
	e := echo.New()

	body := "MSH|^~\\&|SendingApp|SendingFac|ReceivingApp|ReceivingFac|20240115143025||ADT^A01|MSG00001|P|2.5.1\rPID|1||MRN12345||Doe^John||19800515|M"

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ParseMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}
	if result["type"] != "ADT^A01" {
		t.Errorf("expected type 'ADT^A01', got %v", result["type"])
	}
	if result["controlId"] != "MSG00001" {
		t.Errorf("expected controlId 'MSG00001', got %v", result["controlId"])
	}

	children, ok := result["children"].([]interface{})
	if !ok {
		t.Fatal("expected children array in response")
	}
	if len(children) != 2 {
		t.Errorf("expected 2 segment nodes, got %d", len(children))
	}
}

func TestHandler_ParseMessage_EmptyBody(t *testing.T) {
	h := NewHandler(NewEngine())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader(""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ParseMessage(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandler_ParseMessage_Invalid(t *testing.T) {
	h := NewHandler(NewEngine())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader("not an hl7 message"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ParseMessage(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandler_SplitBatch(t *testing.T) {
	h := NewHandler(NewEngine())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/split", strings.NewReader("MSH|A\n\n\nMSH|B\n\r\nMSH|C"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SplitBatch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Count    int      `json:"count"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("expected count 3, got %d", result.Count)
	}
	if len(result.Messages) != 3 || result.Messages[2] != "MSH|C" {
		t.Errorf("unexpected messages: %v", result.Messages)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h := NewHandler(NewEngine())
	e := echo.New()
	g := e.Group("/api/v1")
	h.RegisterRoutes(g)

	routes := e.Routes()
	want := map[string]bool{
		"POST:/api/v1/hl7v2/parse": false,
		"POST:/api/v1/hl7v2/split": false,
	}
	for _, r := range routes {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route: %s", k)
		}
	}
}
