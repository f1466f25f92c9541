package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError answers a middleware rejection with the same {"error": msg}
// shape the handlers use, so clients see one error format everywhere.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
