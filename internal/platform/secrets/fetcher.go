package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	cacheSize           = 128
	meterName           = "github.com/style-suite/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references (session signing key, database DSN, Redis password).
// Secret Manager is authoritative; the local file answers only when Secret Manager is unreachable
// or not configured. Values are cached for a bounded time so rotations are eventually picked up.
type Fetcher struct {
	remote     secretManagerClient
	ownsRemote bool
	local      *localFile
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	cache    *expirable.LRU[string, string]
	inflight singleflight.Group

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type fetcherConfig struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	fallbackPath   string
	cacheTTL       time.Duration
	meter          metric.Meter
	client         secretManagerClient
	clientOpts     []option.ClientOption
}

type Option func(*fetcherConfig)

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithEnvironment selects the project map entry and env-scoped version pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			cfg.env = env
		}
	}
}

// WithDefaultProject is used when the environment has no entry in the project map.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProject = strings.TrimSpace(projectID)
	}
}

func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		for env, project := range m {
			cfg.projects[strings.ToLower(strings.TrimSpace(env))] = strings.TrimSpace(project)
		}
	}
}

func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = path
	}
}

// WithCacheTTL bounds how long a resolved value is reused. Non-positive keeps the default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithVersionPins pins references to versions. A key may be scoped to one environment as
// "env:secret://name"; scoped pins win.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		for ref, version := range pins {
			cfg.pins[strings.TrimSpace(ref)] = strings.TrimSpace(version)
		}
	}
}

// NewFetcher never fails for lack of credentials: without a Secret Manager client the fetcher
// serves the local file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
		projects:     map[string]string{},
		pins:         map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	f := &Fetcher{
		local:          newLocalFile(cfg.fallbackPath),
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProject,
		projects:       cfg.projects,
		pins:           cfg.pins,
		cache:          expirable.NewLRU[string, string](cacheSize, nil, cfg.cacheTTL),
	}
	f.registerMetrics(cfg.meter)

	switch {
	case cfg.client != nil:
		f.remote = cfg.client
	default:
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, serving local secrets only", zap.Error(err))
			break
		}
		f.remote, f.ownsRemote = client, true
	}
	return f, nil
}

func (f *Fetcher) registerMetrics(meter metric.Meter) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	var err error
	if f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if f.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	); err != nil {
		f.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsRemote && f.remote != nil {
		return f.remote.Close()
	}
	return nil
}

// Resolve returns the value behind ref. NotFound from Secret Manager is final; only transport and
// permission failures fall through to the local file.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cache.Get(key); ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1)
		}
		f.observe(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := f.inflight.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, ref, version)
		if err != nil {
			f.observe(ctx, start, "error")
			return "", err
		}
		f.cache.Add(key, value)
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) load(ctx context.Context, ref reference, version string) (string, string, error) {
	if project := f.project(ref); project != "" && f.remote != nil {
		value, err := f.access(ctx, ref.resourceName(project, version))
		if err == nil {
			return value, "remote", nil
		}
		if !recoverable(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying local file",
			zap.String("ref", ref.canonical), zap.Error(err))
	}
	value, err := f.local.lookup(ref, version)
	if err != nil {
		return "", "", err
	}
	return value, "fallback", nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: %s has an empty payload", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) project(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := f.pins[key]; pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency != nil {
		f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("source", source)))
	}
}

// recoverable reports whether the local file may stand in for Secret Manager.
func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
