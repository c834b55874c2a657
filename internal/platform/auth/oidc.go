package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/style-suite/api/internal/platform/requestctx"
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// MetricsRecorder records verification outcomes, labelled by verifier kind and failure reason.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// ServiceIdentity is the verified principal behind an internal call.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityContextKey struct{}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// serviceClaims is the payload of Google-signed OIDC tokens and IAP assertions.
type serviceClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// OIDCValidator guards the internal fulfilment routes with RS256 service tokens.
type OIDCValidator struct {
	keys    *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

type OIDCOption func(*OIDCValidator)

func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: discardLogger{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// oidcRejection is a failed verification: the metric reason plus the response sent to the caller.
type oidcRejection struct {
	reason  string
	status  int
	code    string
	message string
}

func (r *oidcRejection) Error() string { return r.reason + ": " + r.message }

func reject(reason string, status int, code, message string) *oidcRejection {
	return &oidcRejection{reason: reason, status: status, code: code, message: message}
}

// RequireOIDC admits requests whose bearer token (or IAP assertion) is signed by a cached key, was
// issued by one of issuers (any issuer when empty) and names audience. The caller is recorded as a
// "service" principal.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := map[string]bool{}
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed[issuer] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.clock()

			identity, err := v.verify(ctx, r, audience, allowed)
			if err != nil {
				var rejection *oidcRejection
				if !errors.As(err, &rejection) {
					rejection = reject("token_invalid", http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				}
				v.record(ctx, false, rejection.reason, start)
				respondAuthError(ctx, w, rejection.status, rejection.code, rejection.message)
				return
			}

			requestctx.SetCaller(ctx, requestctx.CallerInfo{Kind: "service", UserID: identity.Email})
			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, audience string, issuers map[string]bool) (*ServiceIdentity, error) {
	if audience == "" {
		return nil, reject("audience_not_configured", http.StatusServiceUnavailable, "verification_unavailable", "oidc audience not configured")
	}
	raw, source := serviceToken(r)
	if raw == "" {
		return nil, reject("token_missing", http.StatusUnauthorized, "unauthenticated", "oidc token missing")
	}
	if v == nil || v.keys == nil {
		return nil, reject("cache_unavailable", http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable")
	}

	claims := &serviceClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, claims, v.keyFunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Printf("auth: oidc keys unavailable: %v", err)
			return nil, reject("jwks_unavailable", http.StatusServiceUnavailable, "invalid_token", "oidc token verification failed")
		}
		v.logger.Printf("auth: oidc token from %s rejected: %v", source, err)
		return nil, reject("token_invalid", http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
	}
	if len(issuers) > 0 && !issuers[claims.Issuer] {
		v.logger.Printf("auth: oidc issuer %q not allowed", claims.Issuer)
		return nil, reject("issuer_mismatch", http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch")
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Printf("auth: oidc token from %s not issued for %q", source, audience)
		return nil, reject("audience_mismatch", http.StatusUnauthorized, "invalid_token", "oidc audience mismatch")
	}
	return &ServiceIdentity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Issuer:   claims.Issuer,
		Audience: audience,
	}, nil
}

func (v *OIDCValidator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		if token.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return v.keys.Key(ctx, kid)
	}
}

func (v *OIDCValidator) clock() time.Time {
	if v == nil || v.now == nil {
		return time.Now()
	}
	return v.now()
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "oidc", success, reason, v.clock().Sub(start))
}

// serviceToken prefers the Authorization bearer and falls back to the IAP assertion header.
func serviceToken(r *http.Request) (token, source string) {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer, "authorization"
	}
	if assertion := strings.TrimSpace(r.Header.Get(iapAssertionHeader)); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}
