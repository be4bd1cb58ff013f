package transport

import (
	"net/url"
	"regexp"
)

var bearerHeaderPattern = regexp.MustCompile(`(?i)Bearer\s+\S+`)

// SanitizeURL redacts an "auth" (or "access_token"/"token") query parameter
// before a URL is ever written to a log line, per spec.md §4.4's sanitization
// requirement.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable-url>"
	}
	q := u.Query()
	for _, key := range []string{"auth", "access_token", "token", "code", "client_secret"} {
		if q.Has(key) {
			q.Set(key, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SanitizeHeaderValue redacts a "Bearer <token>" value for logging.
func SanitizeHeaderValue(value string) string {
	return bearerHeaderPattern.ReplaceAllString(value, "Bearer ***")
}
