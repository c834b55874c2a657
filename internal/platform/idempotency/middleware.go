package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousCaller   = "anonymous"
	maxKeyLength      = 255
)

// Logger receives persistence failures the client never sees.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]bool
	clock      clockFunc
	logger     Logger
	required   bool
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded method set. Empty input keeps the default.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = true
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithRequiredKey rejects guarded requests that carry no key instead of passing them through.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.required = true
	}
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a mutating request repeats its idempotency key. Keys are
// scoped to the authenticated caller, so the middleware must be mounted after authentication.
// Server errors are not stored; the key is released and the client may retry with it.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	g := &guard{store: store, cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(next, w, r)
		})
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
}

// request is everything derived from an incoming request that the store needs.
type request struct {
	key         string
	caller      string
	scoped      string
	fingerprint string
}

func (g *guard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	if !g.cfg.methods[r.Method] {
		next.ServeHTTP(w, r)
		return
	}
	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "" && g.cfg.required:
		respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+g.cfg.headerName+" header")
		return
	case key == "":
		next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		respondError(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	req, err := describe(r, key)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	ctx := r.Context()
	reservation, err := g.store.Reserve(ctx, req.scoped, req.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: reserve %s: %v", req.scoped, err)
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
	case ReservationStatePending:
		respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	case ReservationStateNew:
		g.execute(next, w, r, req)
	default:
		respondError(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

// execute runs the handler into a buffer, persists the outcome, then flushes it to the client.
func (g *guard) execute(next http.Handler, w http.ResponseWriter, r *http.Request, req request) {
	ctx := r.Context()
	buf := &bufferedWriter{header: make(http.Header)}

	released := false
	defer func() {
		if rec := recover(); rec != nil {
			if !released {
				g.release(ctx, req)
			}
			panic(rec)
		}
	}()
	next.ServeHTTP(buf, r)

	if buf.statusCode() >= http.StatusInternalServerError {
		released = true
		g.release(ctx, req)
		buf.flushTo(w)
		return
	}

	resp := Response{Status: buf.statusCode(), Headers: cloneHeader(buf.header), Body: buf.body.Bytes()}
	if err := g.store.SaveResponse(ctx, req.scoped, req.fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.logf("idempotency: save %s: %v", req.scoped, err)
		released = true
		g.release(ctx, req)
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	buf.flushTo(w)
}

func (g *guard) release(ctx context.Context, req request) {
	if err := g.store.Release(context.WithoutCancel(ctx), req.scoped, req.fingerprint); err != nil {
		g.logf("idempotency: release %s: %v", req.scoped, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

// describe buffers the body so the handler can still read it, and derives the caller-scoped key and
// request fingerprint.
func describe(r *http.Request, key string) (request, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return request{}, err
		}
		body = data
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	caller := callerIdentity(r.Context())
	return request{
		key:         key,
		caller:      caller,
		scoped:      key + "|" + caller,
		fingerprint: fingerprint(r, caller, body),
	}, nil
}

func fingerprint(r *http.Request, caller string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), caller} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func callerIdentity(ctx context.Context) string {
	caller, ok := requestctx.Caller(ctx)
	if !ok {
		return anonymousCaller
	}
	if caller.APIKeyID != "" {
		return caller.Kind + ":" + caller.APIKeyID
	}
	if caller.UserID != "" {
		return caller.Kind + ":" + caller.UserID
	}
	return anonymousCaller
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		dst[key] = values
	}
	dst.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedWriter holds the handler's response until the outcome has been persisted.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
	return dst
}
