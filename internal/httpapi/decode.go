package httpapi

import (
	"encoding/json"
	"net/http"
)

// decodeJSON parses a JSON request body into out. On failure the 400 response
// has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "request body is not valid JSON")
		return false
	}
	return true
}
