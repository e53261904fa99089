package main

// General API documentation for swaggo. Regenerate the docs package with
// `swag init -g cmd/gend/docs.go` before building with -tags=swagger.
//
// @title           gend API
// @version         1.0
// @description     HTTP API for self-hosted text and image generation jobs.
//
// @contact.name   gend maintainers
// @contact.url    https://github.com/your-org/gend
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
