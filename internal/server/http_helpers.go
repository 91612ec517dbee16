package server

import (
	"fmt"
	"net/http"

	"yt2mp3/internal/api"
)

// writeMiddlewareError normalises middleware error responses to the API JSON shape.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteError(w, status, fmt.Errorf("%s", message))
}
