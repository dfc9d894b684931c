package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// registerOpenAPI serves the generated document once decorated with the
// error envelope and the auth schemes.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
		err  error
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, req *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, basePath)
			doc, err = json.Marshal(oas)
		})
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "", "openapi document unavailable", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func registerDocs(r chi.Router, basePath string) {
	page := docsPage(path.Join("/", basePath, "openapi.json"))
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	})
}

var (
	bearerScheme = map[string][]string{"bearerAuth": {}}
	cookieScheme = map[string][]string{"cookieAuth": {}}
)

// decorateOpenAPI attaches the ApiError schema as every operation's default
// response and marks all but the public routes as requiring a session.
func decorateOpenAPI(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	errRef := "#/components/schemas/ApiError"
	if oas.Components.Schemas != nil {
		if s := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError"); s != nil && s.Ref != "" {
			errRef = s.Ref
		}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["cookieAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "cookie", Name: SessionCookieName}
	required := []map[string][]string{bearerScheme, cookieScheme}
	oas.Security = required

	public := publicPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error envelope",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: &huma.Schema{Ref: errRef}}},
			}
			if public[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = required
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	if item == nil {
		return nil
	}
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete, item.Head, item.Options, item.Trace} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func docsPage(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Loopz API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: "#ui", persistAuthorization: true});
  </script>
  <noscript>Load %s directly. Authenticate with POST /auth/signin, then send the token as a bearer header or the %s cookie.</noscript>
</body>
</html>`, specURL, specURL, SessionCookieName)
}
