//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "gend/docs"
)

// MountSwagger serves the generated OpenAPI document and its UI under
// /swagger/. Regenerate the docs package with `swag init -g cmd/gend/docs.go`
// before building with -tags=swagger.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
