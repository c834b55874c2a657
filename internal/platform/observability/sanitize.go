package observability

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	maxRouteRunes      = 180
	maxIdentifierRunes = 64
	redactedOrderRef   = "ORD-redacted"
)

// Public order numbers act as bearer references for the tracking endpoint.
var orderNumberSegment = regexp.MustCompile(`(?i)^ORD-\d+-[0-9a-z]+$`)

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute strips control characters from a route pattern or raw path and bounds its length.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteRunes)
}

// SanitizePath is SanitizeRoute for raw request paths. Order-number segments are masked.
func SanitizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if orderNumberSegment.MatchString(segment) {
			segments[i] = redactedOrderRef
		}
	}
	return SanitizeRoute(strings.Join(segments, "/"))
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, 10))
}

// SanitizeIdentifier bounds user and API key identifiers before they reach a log line.
func SanitizeIdentifier(id string) string {
	return sanitizeString(strings.TrimSpace(id), maxIdentifierRunes)
}
