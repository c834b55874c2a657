package config

import (
	"strings"
	"time"
)

const defaultSecretFallbackFile = ".secrets.local"

// SecretSettings configures the Secret Manager backed resolver used while loading configuration.
type SecretSettings struct {
	Environment     string
	DefaultProject  string
	ProjectIDs      map[string]string
	VersionPins     map[string]string
	FallbackFile    string
	CredentialsFile string
	CacheTTL        time.Duration
}

// SecretSettingsFromEnv reads resolver settings from the raw environment. It runs before Load, since
// Load needs the resolver.
func SecretSettingsFromEnv(env map[string]string) SecretSettings {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	settings := SecretSettings{
		Environment:     strings.ToLower(lookup("API_SECURITY_ENVIRONMENT")),
		DefaultProject:  lookup("API_SECRET_DEFAULT_PROJECT_ID"),
		FallbackFile:    lookup("API_SECRET_FALLBACK_FILE"),
		CredentialsFile: lookup("API_FIREBASE_CREDENTIALS_FILE"),
		ProjectIDs:      map[string]string{},
		VersionPins:     map[string]string{},
	}
	if settings.Environment == "" {
		settings.Environment = defaultSecurityEnvironment
	}
	if settings.DefaultProject == "" {
		settings.DefaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	if settings.FallbackFile == "" {
		settings.FallbackFile = defaultSecretFallbackFile
	}

	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		settings.CacheTTL = ttl
	}

	for label, project := range ParseKeyValueList(env["API_SECRET_PROJECT_IDS"]) {
		settings.ProjectIDs[strings.ToLower(label)] = project
	}
	for ref, version := range ParseKeyValueList(env["API_SECRET_VERSION_PINS"]) {
		settings.VersionPins[normalizePinReference(ref)] = version
	}
	return settings
}

// ParseKeyValueList parses "k1=v1,k2=v2". Entries with an empty key or value are dropped.
func ParseKeyValueList(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}
	}
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		pairs[key] = value
	}
	return pairs
}

// normalizePinReference turns "prod:session_signing_key" into "prod:secret://session_signing_key".
func normalizePinReference(ref string) string {
	var prefix string
	if idx := strings.Index(ref, ":"); idx > 0 {
		schemeSplit := strings.Index(ref, "://")
		if schemeSplit == -1 || idx < schemeSplit {
			prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
			ref = strings.TrimSpace(ref[idx+1:])
		}
	}
	switch {
	case strings.HasPrefix(ref, "sm://"):
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	case !strings.HasPrefix(ref, "secret://"):
		ref = "secret://" + ref
	}
	return prefix + ref
}
