package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/opsbridge/msigbridge/internal/apierror"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAPIError serializes apiErr as the response body. The auth middleware
// has no logger of its own, so it calls this bare form; handlers route
// through (*Server).writeAPIError instead so internal failures get logged.
func writeAPIError(w http.ResponseWriter, apiErr *apierror.APIError) {
	writeJSON(w, apiErr.HTTPStatus(), apiErr.ToResponse())
}

// writeAPIError logs internal (500-class) failures at error level before
// serializing apiErr as the response body.
func (s *Server) writeAPIError(w http.ResponseWriter, apiErr *apierror.APIError) {
	if apiErr.IsInternal() {
		s.log.Error("request failed", "kind", apiErr.Name(), "message", apiErr.Error())
	}
	writeJSON(w, apiErr.HTTPStatus(), apiErr.ToResponse())
}

// asAPIError unwraps err into an *apierror.APIError, coercing anything else
// into Unexpected so every handler path returns a typed response body.
func asAPIError(err error) *apierror.APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*apierror.APIError); ok {
		return apiErr
	}
	return apierror.Unexpected(err.Error())
}
