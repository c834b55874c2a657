package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/style-suite/api/internal/platform/requestctx"
)

const (
	googleIssuer     = "https://accounts.google.com"
	trackingAudience = "https://api.style-suite.test/internal"
)

var oidcNow = time.Unix(1_700_000_000, 0)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type recordingMetrics struct {
	mu      sync.Mutex
	reasons []string
	success []bool
}

func (m *recordingMetrics) RecordVerification(_ context.Context, _ string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
	m.success = append(m.success, success)
}

func (m *recordingMetrics) last() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		return "", false
	}
	return m.reasons[len(m.reasons)-1], m.success[len(m.success)-1]
}

// issuerFixture serves a JWKS for one RSA key and signs tokens with it.
type issuerFixture struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newIssuerFixture(t *testing.T, kid string) *issuerFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &issuerFixture{key: key, kid: kid}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(f.server.Close)

	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return oidcNow }
	t.Cleanup(func() { jwt.TimeFunc = original })
	return f
}

func (f *issuerFixture) sign(t *testing.T, issuer string, audience ...string) string {
	t.Helper()
	claims := serviceClaims{
		Email: "fulfilment@style-suite.iam.gserviceaccount.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "1122334455",
			Audience:  audience,
			IssuedAt:  jwt.NewNumericDate(oidcNow),
			ExpiresAt: jwt.NewNumericDate(oidcNow.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *issuerFixture) validator(metrics MetricsRecorder) *OIDCValidator {
	cache := NewJWKSCache(f.server.URL, WithJWKSLogger(noopLogger{}), WithJWKSClock(func() time.Time { return oidcNow }))
	return NewOIDCValidator(cache,
		WithOIDCLogger(noopLogger{}),
		WithOIDCMetrics(metrics),
		WithOIDCClock(func() time.Time { return oidcNow }),
	)
}

func TestJWKSCache_FetchesOnceWhileFresh(t *testing.T) {
	issuer := newIssuerFixture(t, "key-1")
	cache := NewJWKSCache(issuer.server.URL, WithJWKSClock(func() time.Time { return oidcNow }))

	for i := 0; i < 3; i++ {
		key, err := cache.Key(context.Background(), "key-1")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if got := issuer.fetches.Load(); got != 1 {
		t.Fatalf("expected a single JWKS fetch, got %d", got)
	}
}

func TestJWKSCache_UnknownKidDoesNotRefetchImmediately(t *testing.T) {
	issuer := newIssuerFixture(t, "key-1")
	cache := NewJWKSCache(issuer.server.URL, WithJWKSClock(func() time.Time { return oidcNow }))

	if _, err := cache.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	_, err := cache.Key(context.Background(), "rotated")
	if err == nil {
		t.Fatal("expected unknown kid to fail")
	}
	if got := issuer.fetches.Load(); got != 1 {
		t.Fatalf("expected unknown kid right after a fetch to use the cached set, got %d fetches", got)
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=3600, must-revalidate": time.Hour,
		"MAX-AGE=60":                            time.Minute,
		"no-store":                              0,
		"max-age=abc":                           0,
		"":                                      0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Errorf("maxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

func TestRequireOIDC(t *testing.T) {
	issuer := newIssuerFixture(t, "svc-key")

	cases := []struct {
		name       string
		audience   string
		issuers    []string
		header     string
		token      string
		wantStatus int
		wantReason string
	}{
		{
			name:       "bearer token accepted",
			audience:   trackingAudience,
			issuers:    []string{googleIssuer},
			header:     "Authorization",
			token:      "Bearer " + issuer.sign(t, googleIssuer, trackingAudience),
			wantStatus: http.StatusNoContent,
			wantReason: "ok",
		},
		{
			name:       "iap assertion accepted",
			audience:   "/projects/123/global/backendServices/456",
			issuers:    []string{"https://cloud.google.com/iap"},
			header:     iapAssertionHeader,
			token:      issuer.sign(t, "https://cloud.google.com/iap", "/projects/123/global/backendServices/456"),
			wantStatus: http.StatusNoContent,
			wantReason: "ok",
		},
		{
			name:       "audience mismatch",
			audience:   "https://other.internal",
			issuers:    []string{googleIssuer},
			header:     "Authorization",
			token:      "Bearer " + issuer.sign(t, googleIssuer, trackingAudience),
			wantStatus: http.StatusUnauthorized,
			wantReason: "audience_mismatch",
		},
		{
			name:       "issuer not allowed",
			audience:   trackingAudience,
			issuers:    []string{googleIssuer},
			header:     "Authorization",
			token:      "Bearer " + issuer.sign(t, "https://evil.example", trackingAudience),
			wantStatus: http.StatusUnauthorized,
			wantReason: "issuer_mismatch",
		},
		{
			name:       "missing token",
			audience:   trackingAudience,
			wantStatus: http.StatusUnauthorized,
			wantReason: "token_missing",
		},
		{
			name:       "garbage token",
			audience:   trackingAudience,
			header:     "Authorization",
			token:      "Bearer not.a.jwt",
			wantStatus: http.StatusUnauthorized,
			wantReason: "token_invalid",
		},
		{
			name:       "audience not configured",
			header:     "Authorization",
			token:      "Bearer " + issuer.sign(t, googleIssuer, trackingAudience),
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "audience_not_configured",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			guard := issuer.validator(metrics).RequireOIDC(tc.audience, tc.issuers)

			req := httptest.NewRequest(http.MethodPost, "/api/internal/orders/ord_1/tracking", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.token)
			}
			rr := httptest.NewRecorder()
			guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := ServiceIdentityFromContext(r.Context())
				if !ok || identity.Audience != tc.audience || identity.Subject != "1122334455" {
					t.Fatalf("unexpected service identity %+v", identity)
				}
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			reason, success := metrics.last()
			if reason != tc.wantReason || success != (tc.wantReason == "ok") {
				t.Fatalf("expected metric %q, got %q (success=%v)", tc.wantReason, reason, success)
			}
		})
	}
}

func TestRequireOIDC_RecordsServiceCaller(t *testing.T) {
	issuer := newIssuerFixture(t, "svc-key")
	guard := issuer.validator(nil).RequireOIDC(trackingAudience, nil)

	ctx, slot := requestctx.WithCaller(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/internal/orders/ord_1/tracking", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+issuer.sign(t, googleIssuer, trackingAudience))
	rr := httptest.NewRecorder()
	guard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if slot.Kind != "service" || slot.UserID != "fulfilment@style-suite.iam.gserviceaccount.com" {
		t.Fatalf("expected service caller, got %+v", slot)
	}
}

func TestRequireOIDC_KeysUnavailable(t *testing.T) {
	issuer := newIssuerFixture(t, "svc-key")
	token := issuer.sign(t, googleIssuer, trackingAudience)
	issuer.server.Close()

	metrics := &recordingMetrics{}
	guard := issuer.validator(metrics).RequireOIDC(trackingAudience, []string{googleIssuer})
	req := httptest.NewRequest(http.MethodGet, "/api/internal/orders/ord_1/tracking", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	guard(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without verification keys")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if reason, _ := metrics.last(); reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %q", reason)
	}
}
