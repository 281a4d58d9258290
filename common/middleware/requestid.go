package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/telhawk-systems/eventfeed/common/logging"
)

// HeaderRequestID carries the per-call identifier in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestID generates or propagates request IDs. An incoming X-Request-ID
// header is kept; otherwise a new UUID is assigned. The ID is echoed in the
// response header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(HeaderRequestID, requestID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
