package crmclient

import (
	"net/url"
	"strings"
)

// Webhook is the absolute base URL granting access to the server's API.
// Requests are issued to {webhook}{method}. A Webhook is immutable once
// constructed: NewWebhook normalizes and validates the raw string once, up
// front, rather than re-checking it on every request.
type Webhook string

// NewWebhook standardizes and validates a raw webhook URL: it must parse as
// an absolute URL with a scheme, host, and path, and always ends in a
// trailing slash so that {webhook}{method} concatenates cleanly.
func NewWebhook(raw string) (Webhook, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newValidationError("webhook cannot be empty")
	}

	if !isValidURL(raw) {
		return "", newValidationError("webhook is not a valid URL: %q", raw)
	}

	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}

	return Webhook(raw), nil
}

// isValidURL is a sanity check: scheme, host, and path must all be
// present. It is intentionally permissive beyond that — full webhook
// syntax validation is handled upstream by the CRM portal itself.
func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Path != ""
}

// RequestURL returns the fully qualified endpoint for method.
func (w Webhook) RequestURL(method string) string {
	return string(w) + method
}
