package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the parsed form of Config.AllowedOrigins. Entries are
// kept as lower-case scheme://host keys; "*" admits everything.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string, log *slog.Logger) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, entry := range origins {
		switch entry = strings.TrimSpace(entry); entry {
		case "":
		case "*":
			policy.allowAll = true
		default:
			key, ok := originKey(entry)
			if !ok {
				log.Warn("Ignoring invalid origin in configuration", "origin", entry)
				continue
			}
			policy.allowed[key] = struct{}{}
		}
	}
	return policy
}

// originKey reduces an origin or URL to the scheme://host form the policy
// compares on. Paths and case are dropped.
func originKey(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// allows reports whether the request's Origin header is permitted.
// Requests without an Origin are rejected unless every origin is allowed.
func (p originPolicy) allows(r *http.Request) bool {
	if p.allowAll {
		return true
	}
	key, ok := originKey(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	_, exists := p.allowed[key]
	return exists
}
