// Package health reports gateway readiness: each subsystem contributes an
// indicator, and the monitor aggregates them into one document served over
// the health endpoint.
package health

import (
	"regexp"
	"time"
)

// Messages leaving over the health endpoint must not leak connection
// detail.
var (
	urlRegex        = regexp.MustCompile(`[a-z+]+://\S+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health state of one subsystem or the whole gateway.
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	Status      string         `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
}

// HealthyStatus builds a healthy status for a component.
func HealthyStatus(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// UnhealthyStatus builds an unhealthy status, sanitizing the message.
func UnhealthyStatus(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   sanitizeMessage(message),
		Timestamp: time.Now(),
	}
}

// WithDetails attaches detail fields and returns a copy.
func (s Status) WithDetails(details map[string]any) Status {
	s.Details = details
	return s
}

// sanitizeMessage strips URLs, paths, addresses, and credential-shaped
// fragments from messages bound for the health endpoint.
func sanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	return msg
}
