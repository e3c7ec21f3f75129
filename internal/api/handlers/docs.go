package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed docs/openapi.yaml
var docsFS embed.FS

// OpenAPISpec returns the embedded OpenAPI document.
func OpenAPISpec() ([]byte, error) {
	return docsFS.ReadFile("docs/openapi.yaml")
}

// DocsHandler serves the API documentation.
type DocsHandler struct {
	logger      *slog.Logger
	specURL     string
	swaggerHTML *template.Template
}

// NewDocsHandler creates a new docs handler. specURL is where the UI fetches
// the document from.
func NewDocsHandler(specURL string, logger *slog.Logger) *DocsHandler {
	return &DocsHandler{
		logger:      logger,
		specURL:     specURL,
		swaggerHTML: template.Must(template.New("swagger").Parse(swaggerUITemplate)),
	}
}

// ServeSwaggerUI renders Swagger UI pointed at the embedded document.
func (h *DocsHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := struct {
		SpecURL string
		Title   string
	}{
		SpecURL: h.specURL,
		Title:   "keyrelay",
	}

	if err := h.swaggerHTML.Execute(w, data); err != nil {
		h.logger.Error("failed to render Swagger UI", "error", err)
	}
}

// ServeOpenAPISpec serves the embedded OpenAPI document.
func (h *DocsHandler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	data, err := OpenAPISpec()
	if err != nil {
		h.logger.Error("failed to read OpenAPI spec", "error", err)
		http.Error(w, "OpenAPI specification not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// swaggerUITemplate loads Swagger UI from the unpkg CDN.
const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { background-color: #0f766e; }
        .swagger-ui .btn.authorize { background-color: #0f766e; border-color: #0f766e; color: white; }
        .swagger-ui .btn.authorize svg { fill: white; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis],
                persistAuthorization: true,
                displayRequestDuration: true
            });
        };
    </script>
</body>
</html>`
