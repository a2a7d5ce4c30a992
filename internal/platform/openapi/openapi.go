// Package openapi builds an OpenAPI 3.0 document from the routes registered
// on an echo server and serves it with a Swagger UI page.
package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation documents one route. Routes without an Operation are still
// listed with a generated summary.
type Operation struct {
	Summary string
	Tag     string
	// Responses maps status codes to descriptions. 200 is assumed when empty.
	Responses map[int]string
	// FileField names the multipart field of an upload request.
	FileField string
	// RawBody is the content type of a plain request body, e.g. text/plain.
	RawBody string
	// Schema references a component schema for the success response.
	Schema string
}

// Generator collects operation docs and renders the spec.
type Generator struct {
	title   string
	version string
	ops     map[string]Operation
	schemas map[string]interface{}
}

func NewGenerator(title, version string) *Generator {
	return &Generator{
		title:   title,
		version: version,
		ops:     make(map[string]Operation),
		schemas: map[string]interface{}{"Error": errorSchema()},
	}
}

// Describe attaches docs to the route method path, where path uses echo
// syntax (/files/:fileId).
func (g *Generator) Describe(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

// AddSchema registers a component schema that operations can reference.
func (g *Generator) AddSchema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

var documentedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// GenerateSpec produces the OpenAPI 3.0 spec for routes as a map.
func (g *Generator) GenerateSpec(routes []*echo.Route) map[string]interface{} {
	paths := make(map[string]interface{})
	tagSet := make(map[string]bool)

	sorted := append([]*echo.Route(nil), routes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})

	for _, r := range sorted {
		if !documentedMethods[r.Method] || strings.Contains(r.Path, "*") {
			continue
		}
		oasPath, params := convertPath(r.Path)

		op, ok := g.ops[r.Method+" "+r.Path]
		if !ok {
			op = Operation{Summary: r.Method + " " + r.Path}
		}
		if op.Tag != "" {
			tagSet[op.Tag] = true
		}

		item, _ := paths[oasPath].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[oasPath] = item
		}
		item[strings.ToLower(r.Method)] = g.buildOperation(r, op, params)
	}

	var tags []map[string]string
	for tag := range tagSet {
		tags = append(tags, map[string]string{"name": tag})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i]["name"] < tags[j]["name"] })

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"tags":  tags,
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func (g *Generator) buildOperation(r *echo.Route, op Operation, params []string) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(r.Method, r.Path),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}

	if len(params) > 0 {
		ps := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			ps = append(ps, map[string]interface{}{
				"name":     p,
				"in":       "path",
				"required": true,
				"schema":   map[string]string{"type": "string"},
			})
		}
		out["parameters"] = ps
	}

	switch {
	case op.FileField != "":
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"multipart/form-data": map[string]interface{}{
					"schema": map[string]interface{}{
						"type":     "object",
						"required": []string{op.FileField},
						"properties": map[string]interface{}{
							op.FileField: map[string]string{"type": "string", "format": "binary"},
						},
					},
				},
			},
		}
	case op.RawBody != "":
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				op.RawBody: map[string]interface{}{"schema": map[string]string{"type": "string"}},
			},
		}
	}

	responses := map[string]interface{}{
		"default": map[string]interface{}{
			"description": "Error",
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/Error"},
				},
			},
		},
	}
	if len(op.Responses) == 0 {
		op.Responses = map[int]string{http.StatusOK: "OK"}
	}
	for status, desc := range op.Responses {
		resp := map[string]interface{}{"description": desc}
		if op.Schema != "" && status >= 200 && status < 300 && status != http.StatusNoContent {
			resp["content"] = map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/" + op.Schema},
				},
			}
		}
		responses[strconv.Itoa(status)] = resp
	}
	out["responses"] = responses
	return out
}

// convertPath rewrites /files/:fileId to /files/{fileId} and returns the
// parameter names in order.
func convertPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	var params []string
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimPrefix(seg, ":")
		if seg == "" {
			continue
		}
		for _, part := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' || r == '.' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"code", "message"},
		"properties": map[string]interface{}{
			"code":    map[string]string{"type": "string"},
			"message": map[string]string{"type": "string"},
		},
	}
}

// DocsPath serves the Swagger UI page.
const DocsPath = "/docs"

// DocsContentSecurityPolicy lets the Swagger UI page load its bundle from
// unpkg and fetch /openapi.json.
const DocsContentSecurityPolicy = "default-src 'none'; " +
	"script-src https://unpkg.com 'unsafe-inline'; " +
	"style-src https://unpkg.com 'unsafe-inline'; " +
	"img-src 'self' data: https://unpkg.com; " +
	"connect-src 'self'; frame-ancestors 'none'"

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>HL7 Telescoper API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers GET /openapi.json and GET /docs on e. The spec is
// built from e.Routes() on each request so it reflects every registered route.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec(e.Routes()))
	})
	e.GET(DocsPath, func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
