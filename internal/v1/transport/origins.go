package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// validateOrigin checks the Origin header against the configured allow list.
// Requests without an Origin header are allowed: non-browser clients (game
// SDKs) do not send one.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return nil
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(originURL.Scheme, allowedURL.Scheme) &&
			strings.EqualFold(originURL.Host, allowedURL.Host) {
			return nil
		}
	}
	return fmt.Errorf("origin %q is not allowed", origin)
}
