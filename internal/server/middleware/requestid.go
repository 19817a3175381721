package middleware

import (
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/clipqueue/internal/errors"
)

// RequestID ensures every request carries an X-Request-ID header and echoes
// it on the response. A client-supplied id is kept.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(apperrors.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(apperrors.RequestIDHeader, id)
		}
		w.Header().Set(apperrors.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
