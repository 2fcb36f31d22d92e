package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gatefs/gatefs/pkg/api/auth"
	"github.com/gatefs/gatefs/pkg/api/middleware"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// claimsOrUnauthorized pulls JWT claims from the context, writing a 401
// when the route was somehow reached without the JWTAuth middleware.
func claimsOrUnauthorized(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return nil, false
	}
	return claims, true
}

// queryInt parses an integer query parameter, returning def when absent.
// Malformed values also fall back to def; range clamping is the callee's
// concern.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
