package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	OpenAPI string                               `yaml:"openapi"`
	Paths   map[string]map[string]map[string]any `yaml:"paths"`
}

func TestOpenAPISpecDocumentsEveryRoute(t *testing.T) {
	data, err := OpenAPISpec()
	require.NoError(t, err)

	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.True(t, strings.HasPrefix(doc.OpenAPI, "3."))

	routes := map[string][]string{
		"/v1/auth/keys":        {"post", "get"},
		"/v1/auth/keys/{name}": {"delete"},
		"/v1/auth":             {"post"},
		"/v1/email":            {"post"},
		"/v2/email":            {"post"},
		"/healthcheck":         {"get"},
	}
	for path, methods := range routes {
		item, ok := doc.Paths[path]
		require.True(t, ok, "missing path %s", path)
		for _, m := range methods {
			op, ok := item[m]
			require.True(t, ok, "missing %s %s", m, path)
			assert.Contains(t, op, "responses", "%s %s", m, path)
		}
	}
}

func TestDocsHandler(t *testing.T) {
	h := NewDocsHandler("/openapi/openapi.yaml", testLogger())

	rr := httptest.NewRecorder()
	h.ServeSwaggerUI(rr, httptest.NewRequest(http.MethodGet, "/openapi", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SwaggerUIBundle")
	assert.Contains(t, rr.Body.String(), "openapi.yaml")

	rr = httptest.NewRecorder()
	h.ServeOpenAPISpec(rr, httptest.NewRequest(http.MethodGet, "/openapi/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "/v1/auth/keys")
}

type documentedOperation struct {
	path   string
	method string
	op     map[string]any
}

func loadOperations(t *testing.T) ([]documentedOperation, map[string]any) {
	t.Helper()
	data, err := OpenAPISpec()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))

	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(data, &doc))

	var ops []documentedOperation
	for path, item := range doc.Paths {
		for method, op := range item {
			ops = append(ops, documentedOperation{path: path, method: method, op: op})
		}
	}
	require.NotEmpty(t, ops)
	return ops, raw
}

// resolveRef walks a local "#/a/b/c" reference through the raw document.
func resolveRef(doc map[string]any, ref string) bool {
	if !strings.HasPrefix(ref, "#/") {
		return false
	}
	var node any = doc
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		m, ok := node.(map[string]any)
		if !ok {
			return false
		}
		if node, ok = m[part]; !ok {
			return false
		}
	}
	return true
}

func collectRefs(node any, out *[]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if ref, ok := child.(string); ok && k == "$ref" {
				*out = append(*out, ref)
				continue
			}
			collectRefs(child, out)
		}
	case []any:
		for _, child := range v {
			collectRefs(child, out)
		}
	}
}

// **Feature: keyrelay, Property 13: OpenAPI completeness**
// Every documented operation has a success response, every guarded operation
// documents 401, and every $ref resolves within the document.
func TestPropertyOpenAPICompleteness(t *testing.T) {
	ops, raw := loadOperations(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genIndex := gen.IntRange(0, len(ops)-1)

	properties.Property("every operation has a 2xx response", prop.ForAll(
		func(idx int) bool {
			responses, _ := ops[idx].op["responses"].(map[string]any)
			for code := range responses {
				if strings.HasPrefix(code, "2") {
					return true
				}
			}
			return false
		},
		genIndex,
	))

	properties.Property("guarded operations document 401", prop.ForAll(
		func(idx int) bool {
			security, ok := ops[idx].op["security"].([]any)
			if ok && len(security) == 0 {
				return true
			}
			responses, _ := ops[idx].op["responses"].(map[string]any)
			_, has401 := responses["401"]
			return has401
		},
		genIndex,
	))

	properties.TestingRun(t)

	var refs []string
	collectRefs(raw, &refs)
	require.NotEmpty(t, refs)
	for _, ref := range refs {
		assert.True(t, resolveRef(raw, ref), "unresolved $ref %s", ref)
	}
}
