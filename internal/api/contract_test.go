package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lockerfleet/fleet/internal/testutil"
)

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	root := testutil.MustRepoRoot(t)
	specPath := filepath.Join(root, "api", "openapi.yaml")

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	require.NoError(t, err, "load openapi doc %s", specPath)
	require.NoError(t, doc.Validate(context.Background()), "openapi doc invalid")
	return doc
}

var pathParamRe = regexp.MustCompile(`\{([^}]+)\}`)

// samplePathValue resolves a {id}/{kiosk_id}-style path template into a
// concrete URL so a documented route can be dialed against the live router.
func samplePathValue(name string) string {
	switch name {
	case "id":
		return "1"
	default:
		return "x"
	}
}

// TestRouterParity asserts that every route documented in api/openapi.yaml
// is actually mounted on the production router: a route present in the doc
// but missing from the chi mux (or vice versa drifting silently) would
// otherwise only surface as a kiosk/staff client integration failure.
func TestRouterParity(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	s := newTestServer(t)
	router := NewRouter(RouterConfig{}, s)

	for path, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, op := range pathItem.Operations() {
			if op == nil {
				continue
			}
			resolved := pathParamRe.ReplaceAllStringFunc(path, func(m string) string {
				return samplePathValue(pathParamRe.FindStringSubmatch(m)[1])
			})

			req := httptest.NewRequest(method, resolved+"?kiosk_id=kiosk-1", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
				t.Fatalf("documented route not mounted: %s %s -> %d", method, path, rr.Code)
			}
		}
	}
}

// TestRouterParity_NoUndocumentedRoutes walks the live chi mux and fails if
// it exposes a route the OpenAPI doc doesn't know about, so the doc can't
// silently fall behind a new handler.
func TestRouterParity_NoUndocumentedRoutes(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	s := newTestServer(t)
	router := NewRouter(RouterConfig{}, s)

	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		normalized := chiRouteToOpenAPIPath(route)
		pathItem := doc.Paths.Find(normalized)
		if pathItem == nil {
			t.Errorf("route %s %s is mounted but not documented in api/openapi.yaml", method, route)
			return nil
		}
		if _, ok := pathItem.Operations()[method]; !ok {
			t.Errorf("route %s %s is mounted but method undocumented in api/openapi.yaml", method, route)
		}
		return nil
	})
	require.NoError(t, err)
}

// chiRouteToOpenAPIPath rewrites chi's {param} wildcard syntax, which
// already matches OpenAPI's own {param} convention for this surface, and
// trims the trailing-slash chi sometimes adds for route groups.
func chiRouteToOpenAPIPath(route string) string {
	if len(route) > 1 && route[len(route)-1] == '/' {
		route = route[:len(route)-1]
	}
	return route
}

// validateOpenAPIResponse checks a recorded response against the schema
// documented for the route the request matched.
func validateOpenAPIResponse(t *testing.T, doc *openapi3.T, req *http.Request, rr *httptest.ResponseRecorder) {
	t.Helper()
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err, "openapi router init")

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, "openapi route lookup for %s %s", req.Method, req.URL.Path)

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rr.Code,
		Header: rr.Header(),
	}
	input.SetBodyBytes(rr.Body.Bytes())

	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), input), "openapi response validation")
}

// TestContractResponseSchemas spot-checks that representative handler
// responses conform to the schemas documented for their operation, the way
// a generated client's response decoding would enforce at compile time.
func TestContractResponseSchemas(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	s := newTestServer(t)
	router := NewRouter(RouterConfig{}, s)

	registerBody := map[string]any{"kiosk_id": "kiosk-1", "zone": "A", "version": "1.0.0", "hardware_id": "hw-1"}
	req := jsonRequest(t, http.MethodPost, "/provisioning/register", registerBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	validateOpenAPIResponse(t, doc, req, rr)

	listReq := httptest.NewRequest(http.MethodGet, "/lockers?kiosk_id=kiosk-1", nil)
	listRR := httptest.NewRecorder()
	router.ServeHTTP(listRR, listReq)
	require.Equal(t, http.StatusOK, listRR.Code)
	validateOpenAPIResponse(t, doc, listReq, listRR)
}
