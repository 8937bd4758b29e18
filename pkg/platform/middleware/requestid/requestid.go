// Package requestid tags every request with an id, reusing the caller's
// X-Request-ID when present.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"audita/pkg/requestcontext"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

// maxLen bounds ids accepted from callers.
const maxLen = 128

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxLen {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
