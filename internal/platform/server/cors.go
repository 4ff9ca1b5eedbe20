package server

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization"
)

// CORS takes a comma separated origin list ("*" allows any). Loopback
// aliases on the same scheme and port match each other.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Vary", "Origin, Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Origin", origins.match(r.Header.Get("Origin")))
			h.Set("Access-Control-Allow-Methods", corsMethods)
			if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			} else {
				h.Set("Access-Control-Allow-Headers", corsHeaders)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type originList []string

func parseOrigins(raw string) originList {
	var out originList
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// match echoes the request origin when allowed; otherwise it answers with
// the first configured origin so browsers reject the response.
func (l originList) match(requestOrigin string) string {
	if len(l) == 0 || l[0] == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return l[0]
	}
	for _, allowed := range l {
		if origin == allowed || sameLoopback(origin, allowed) {
			return origin
		}
	}
	return l[0]
}

func sameLoopback(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return isLoopback(ua.Hostname()) && isLoopback(ub.Hostname()) &&
		ua.Port() == ub.Port() && strings.EqualFold(ua.Scheme, ub.Scheme)
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
