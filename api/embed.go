// Package api carries the OpenAPI description served at /openapi.yaml and
// used to validate request bodies.
package api

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
