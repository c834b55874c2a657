package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/style-suite/api/internal/di"
	"github.com/style-suite/api/internal/handlers"
	"github.com/style-suite/api/internal/platform/auth"
	"github.com/style-suite/api/internal/platform/config"
	pfirestore "github.com/style-suite/api/internal/platform/firestore"
	"github.com/style-suite/api/internal/platform/idempotency"
	"github.com/style-suite/api/internal/platform/jobs"
	"github.com/style-suite/api/internal/platform/observability"
	"github.com/style-suite/api/internal/platform/secrets"
	"github.com/style-suite/api/internal/repositories"
	"github.com/style-suite/api/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "style-suite api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, config.SecretSettingsFromEnv(envValues))
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	metrics := observability.NewMetrics()

	var closers closerStack
	defer closers.closeAll(logger)

	idemStore, idemCheck, err := newIdempotencyStore(ctx, cfg, &closers)
	if err != nil {
		return fmt.Errorf("initialise idempotency store: %w", err)
	}

	checks := []repositories.DependencyCheck{secretManagerCheck(fetcher)}
	if idemCheck != nil {
		checks = append(checks, *idemCheck)
	}
	reg, err := di.OpenRegistry(ctx, cfg, checks...)
	if err != nil {
		return fmt.Errorf("open repositories: %w", err)
	}

	events, err := newOrderEventPublisher(ctx, cfg, &closers)
	if err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("initialise order events: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, reg, di.Options{
		Logger:  logger,
		Metrics: metrics,
		Events:  events,
		Build:   buildInfo,
	})
	if err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	authenticator, err := newAuthenticator(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialise session authenticator: %w", err)
	}

	idempotencyMiddleware := idempotency.Middleware(
		idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderRateLimit(cfg.RateLimits.DefaultPerMinute, time.Now),
	)
	partnerHandlers := handlers.NewPartnerOrderHandlers(svc.APIKeys, svc.Orders,
		handlers.WithPartnerIdempotency(idempotencyMiddleware),
		handlers.WithPartnerRateLimit(cfg.RateLimits.PartnerPerMinute, time.Now),
	)
	adminHandlers := handlers.NewAdminAPIKeyHandlers(authenticator, svc.APIKeys)
	trackingHandlers := handlers.NewInternalTrackingHandlers(svc.Tracking)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			metrics.Middleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(orderHandlers.MeRoutes),
		handlers.WithPartnerRoutes(partnerHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(trackingHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg, metrics); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))

	group.Go(func() error {
		serverLogger.Info("style-suite api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Idempotency.CleanupInterval > 0 {
		group.Go(func() error {
			runIdempotencyCleanup(groupCtx, logger.Named("idempotency"), idemStore, cfg.Idempotency)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, closers *closerStack) (idempotency.Store, *repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers.push("redis", client.Close)
		check := &repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		}
		return idempotency.NewRedisStore(client), check, nil
	case config.IdempotencyBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, nil, err
		}
		closers.push("firestore", provider.Close)
		check := &repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		}
		return idempotency.NewFirestoreStore(provider), check, nil
	default:
		return idempotency.NewMemoryStore(), nil, nil
	}
}

// newOrderEventPublisher returns a nil interface when events are disabled.
func newOrderEventPublisher(ctx context.Context, cfg config.Config, closers *closerStack) (services.OrderEventPublisher, error) {
	switch cfg.Events.Backend {
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		closers.push("pubsub", client.Close)
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			return nil, err
		}
		closers.push("pubsub topic", func() error {
			publisher.Stop()
			return nil
		})
		return publisher, nil
	case config.EventsBackendKafka:
		publisher, err := jobs.NewKafkaOrderEventPublisher(jobs.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.Topic))
		if err != nil {
			return nil, err
		}
		closers.push("kafka", publisher.Close)
		return publisher, nil
	default:
		return nil, nil
	}
}

func newAuthenticator(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*auth.Authenticator, error) {
	var chain auth.ChainVerifier
	if secret := strings.TrimSpace(cfg.Session.JWTSecret); secret != "" {
		jwtVerifier, err := auth.NewJWTVerifier(secret, auth.WithJWTIssuer(cfg.Session.JWTIssuer))
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwtVerifier)
	}
	if cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, auth.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, firebaseVerifier)
	}
	if len(chain) == 0 {
		return nil, errors.New("no session verifier configured")
	}
	return auth.NewAuthenticator(chain, auth.WithSessionMetrics(metrics)), nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter), auth.WithOIDCMetrics(metrics))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, settings config.SecretSettings) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithEnvironment(settings.Environment),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(settings.FallbackFile),
		secrets.WithCacheTTL(settings.CacheTTL),
	}
	if len(settings.ProjectIDs) > 0 {
		opts = append(opts, secrets.WithProjectMap(settings.ProjectIDs))
	}
	if settings.DefaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(settings.DefaultProject))
	}
	if len(settings.VersionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(settings.VersionPins))
	}
	if settings.CredentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(settings.CredentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a non-empty value before the server starts.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"]) == "" {
		required = append(required, "Session.JWTSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_IDEMPOTENCY_BACKEND"]), config.IdempotencyBackendRedis) &&
		strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

type namedCloser struct {
	name  string
	close func() error
}

// closerStack closes resources in reverse acquisition order.
type closerStack []namedCloser

func (s *closerStack) push(name string, fn func() error) {
	*s = append(*s, namedCloser{name: name, close: fn})
}

func (s closerStack) closeAll(logger *zap.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].close(); err != nil {
			logger.Warn("close error", zap.String("resource", s[i].name), zap.Error(err))
		}
	}
}
