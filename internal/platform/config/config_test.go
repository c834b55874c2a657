package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_SESSION_JWT_SECRET": "dev-secret",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != "sqlite" || !cfg.Database.AutoMigrate {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Database.StorageTimeout != 5*time.Second {
		t.Errorf("unexpected storage timeout: %s", cfg.Database.StorageTimeout)
	}
	if cfg.Orders.CreateTimeout != 15*time.Second {
		t.Errorf("unexpected create timeout: %s", cfg.Orders.CreateTimeout)
	}
	if cfg.Orders.DeliveryWindow != 7*24*time.Hour {
		t.Errorf("unexpected delivery window: %s", cfg.Orders.DeliveryWindow)
	}
	if cfg.Orders.NumberAttempts != 5 {
		t.Errorf("unexpected number attempts: %d", cfg.Orders.NumberAttempts)
	}
	if cfg.Pricing.FreeShippingThreshold != 500 || cfg.Pricing.FlatShippingFee != 50 || cfg.Pricing.TaxRateBasisPoints != 1800 {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 || cfg.RateLimits.PartnerPerMinute != 60 {
		t.Errorf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if cfg.Events.Backend != EventsBackendNone || cfg.Events.Topic != "order-events" {
		t.Errorf("unexpected events defaults: %+v", cfg.Events)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendMemory {
		t.Errorf("expected memory idempotency backend, got %s", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_READ_TIMEOUT":             "20s",
		"API_DATABASE_DRIVER":                 "Postgres",
		"API_DATABASE_DSN":                    "secret://db/dsn",
		"API_DATABASE_AUTO_MIGRATE":           "off",
		"API_ORDERS_CREATE_TIMEOUT":           "10s",
		"API_PRICING_FREE_SHIPPING_THRESHOLD": "1000",
		"API_PRICING_TAX_RATE_BPS":            "2000",
		"API_SESSION_JWT_SECRET":              "sm://session/key",
		"API_FIREBASE_PROJECT_ID":             "shop-prod",
		"API_REDIS_ADDR":                      "redis:6379",
		"API_REDIS_PASSWORD":                  "secret://redis/password",
		"API_REDIS_DB":                        "2",
		"API_EVENTS_BACKEND":                  "kafka",
		"API_EVENTS_KAFKA_BROKERS":            "k1:9092, k2:9092,",
		"API_RATELIMIT_PARTNER_PER_MIN":       "30",
		"API_SECURITY_ENVIRONMENT":            "PROD",
		"API_SECURITY_OIDC_AUDIENCES":         "prod=https://api.example.com,stg=https://stg.example.com",
		"API_IDEMPOTENCY_BACKEND":             "redis",
		"API_IDEMPOTENCY_TTL":                 "1h",
	}

	resolved := map[string]string{
		"secret://db/dsn":         "postgres://orders@db/orders",
		"secret://session/key":    "prod-session-key",
		"secret://redis/password": "hunter2",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := resolved[ref]
		if !ok {
			return "", errors.New("unknown ref " + ref)
		}
		return value, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://orders@db/orders" || cfg.Database.AutoMigrate {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Orders.CreateTimeout != 10*time.Second {
		t.Errorf("unexpected create timeout: %s", cfg.Orders.CreateTimeout)
	}
	if cfg.Pricing.FreeShippingThreshold != 1000 || cfg.Pricing.TaxRateBasisPoints != 2000 || cfg.Pricing.FlatShippingFee != 50 {
		t.Errorf("unexpected pricing config: %+v", cfg.Pricing)
	}
	if cfg.Session.JWTSecret != "prod-session-key" {
		t.Errorf("expected resolved session secret, got %q", cfg.Session.JWTSecret)
	}
	if cfg.Firestore.ProjectID != "shop-prod" || cfg.Events.PubSubProjectID != "shop-prod" {
		t.Errorf("expected project ids to default to firebase project, got %q %q", cfg.Firestore.ProjectID, cfg.Events.PubSubProjectID)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.Password != "hunter2" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if !reflect.DeepEqual(cfg.Events.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected kafka brokers: %v", cfg.Events.KafkaBrokers)
	}
	if cfg.RateLimits.PartnerPerMinute != 30 {
		t.Errorf("unexpected partner rate limit: %d", cfg.RateLimits.PartnerPerMinute)
	}
	if cfg.Security.Environment != "prod" || cfg.Security.OIDC.Audience != "https://api.example.com" {
		t.Errorf("expected audience from environment map, got %+v", cfg.Security)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendRedis || cfg.Idempotency.TTL != time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_SESSION_JWT_SECRET=\"from-dotenv\"\nAPI_SERVER_PORT=7070\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"API_SERVER_PORT": "6060",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Session.JWTSecret != "from-dotenv" {
		t.Errorf("expected dotenv secret, got %q", cfg.Session.JWTSecret)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit env map to win, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"API_DATABASE_DRIVER":     "mysql",
		"API_EVENTS_BACKEND":      "kafka",
		"API_IDEMPOTENCY_BACKEND": "redis",
	}), WithoutSystemEnv(), WithEnvFile(""))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"Database.Driver", "Session.JWTSecret", "Redis.Addr", "Events.KafkaBrokers"}
	if !reflect.DeepEqual(vErr.Fields(), want) {
		t.Fatalf("expected fields %v, got %v", want, vErr.Fields())
	}
}

func TestLoadFirebaseProjectSatisfiesSessionRequirement(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("expected firebase-only session config to load, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_DATABASE_DSN"] = "secret://db/dsn"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if sErr.Ref != "secret://db/dsn" || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("unexpected secret error: %v", err)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "explicit" {
		t.Fatalf("unexpected values %v", values)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_REDIS_PASSWORD":      "secret://redis/password",
	}
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return " ", nil
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver), WithRequiredSecrets("Redis.Password", "Session.JWTSecret", "Redis.Password"))

	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if !reflect.DeepEqual(missing.Names(), []string{"Redis.Password", "Session.JWTSecret"}) {
		t.Fatalf("unexpected names %v", missing.Names())
	}
	for _, redacted := range missing.RedactedNames() {
		if redacted == "Redis.Password" || len(redacted) != 16 {
			t.Fatalf("expected redacted hash, got %q", redacted)
		}
	}
}

func TestSecretSettingsFromEnv(t *testing.T) {
	settings := SecretSettingsFromEnv(map[string]string{
		"API_SECURITY_ENVIRONMENT": "Prod",
		"API_FIREBASE_PROJECT_ID":  "shop-prod",
		"API_SECRET_PROJECT_IDS":   "PROD=secrets-prod, stg = secrets-stg ,broken",
		"API_SECRET_VERSION_PINS":  "prod:session_signing_key=3,sm://db/dsn=7,secret://redis/password=",
	})

	if settings.Environment != "prod" {
		t.Errorf("expected lowercased environment, got %q", settings.Environment)
	}
	if settings.DefaultProject != "shop-prod" {
		t.Errorf("expected firebase project fallback, got %q", settings.DefaultProject)
	}
	if settings.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected fallback file %q", settings.FallbackFile)
	}
	wantProjects := map[string]string{"prod": "secrets-prod", "stg": "secrets-stg"}
	if !reflect.DeepEqual(settings.ProjectIDs, wantProjects) {
		t.Errorf("expected projects %v, got %v", wantProjects, settings.ProjectIDs)
	}
	wantPins := map[string]string{
		"prod:secret://session_signing_key": "3",
		"secret://db/dsn":                   "7",
	}
	if !reflect.DeepEqual(settings.VersionPins, wantPins) {
		t.Errorf("expected pins %v, got %v", wantPins, settings.VersionPins)
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := ParseKeyValueList(" a = 1 ,b=,=c,d=4,novalue")
	want := map[string]string{"a": "1", "d": "4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(ParseKeyValueList("  ")) != 0 {
		t.Fatalf("expected empty map for blank input")
	}
}
