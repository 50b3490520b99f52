package middleware

import (
	"net/http"
	"sync/atomic"
)

// Metrics counts requests and error responses (status >= 400) into the
// provided counters, which the /metrics endpoint reads.
func Metrics(requests, errs *atomic.Int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)

			sr := record(w)
			next.ServeHTTP(sr, r)

			if sr.status >= 400 {
				errs.Add(1)
			}
		})
	}
}
