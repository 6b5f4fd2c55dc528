package api

import (
	"net/http"
	"strconv"

	"github.com/oentex/oentex/internal/auth"
)

// userID returns the signed-in user of the request, or ""
func userID(r *http.Request) string {
	return auth.UserID(r.Context())
}

// queryInt returns the integer query parameter name, or def when it is
// missing or not a number
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
