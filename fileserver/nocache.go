package fileserver

import "net/http"

// Header values sent with every response. Browsers cache aggressively and
// a stale page is poison when testing camera flows, so storage and reuse
// are forbidden outright.
const (
	CacheControlValue = "no-store, no-cache, must-revalidate, max-age=0"
	PragmaValue       = "no-cache"
	ExpiresValue      = "0"
)

func setNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", CacheControlValue)
	h.Set("Pragma", PragmaValue)
	h.Set("Expires", ExpiresValue)
}

// NoCache wraps a handler so the anti-caching headers are set before the
// wrapped handler finalizes its own. It applies unconditionally, 404s and
// directory listings included.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		setNoCacheHeaders(rw.Header())
		next.ServeHTTP(rw, req)
	})
}
