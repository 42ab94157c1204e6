// Package api carries the OpenAPI document of the HTTP surface
package api

import _ "embed"

// OpenAPI is the embedded copy of openapi.yaml
//
//go:embed openapi.yaml
var OpenAPI []byte
