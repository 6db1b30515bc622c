package testutils

import (
	"net/http"

	"ztpki/api/endpoints"
	"ztpki/pkg/helper"
)

// NewEndpointHandler http.Handler serving endpoint at its registered path
func NewEndpointHandler(endpoint endpoints.Endpoint) http.Handler {
	handler := helper.NewEcho()
	endpoints.Route(handler, endpoint)

	return handler
}
