package gateway

import (
	"net/http"
	"strings"
)

const (
	secretHeader  = "X-Gateway-Secret"
	traceIDHeader = "X-Trace-Id"
)

// originPolicy decides which browser origins may reach the gateway.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			p.any = true
			continue
		}
		p.allowed[strings.ToLower(o)] = struct{}{}
	}
	return p
}

// allows reports whether origin may connect. Requests without an Origin
// header come from non-browser clients and are always allowed.
func (p originPolicy) allows(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

func (p originPolicy) checkWebSocketOrigin(r *http.Request) bool {
	return p.allows(r.Header.Get("Origin"))
}

// applyCORS writes CORS headers for r and reports whether the request may
// proceed.
func (p originPolicy) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !p.allows(origin) {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", secretHeader, traceIDHeader}, ", "))
	h.Set("Access-Control-Max-Age", "600")
	return true
}
