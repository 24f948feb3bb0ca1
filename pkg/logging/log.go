package logging

import (
	"net/http"
	"strings"

	"log/slog"
)

var sensitive = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
}

// SafeHeaders returns request headers suitable for logging with
// sensitive values redacted. Only the first value of each header is kept.
func SafeHeaders(r *http.Request) map[string]string {
	out := make(map[string]string)
	for k, v := range r.Header {
		if len(v) == 0 {
			continue
		}
		if _, ok := sensitive[strings.ToLower(k)]; ok {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v[0]
	}
	return out
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(r *http.Request) {
	slog.Info("incoming_request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "headers", SafeHeaders(r))
}
