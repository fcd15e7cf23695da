package app

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"golang.org/x/oauth2"

	"github.com/bczopp/edda/internal/audit"
	"github.com/bczopp/edda/internal/bifrost"
	"github.com/bczopp/edda/internal/config"
	coretelemetry "github.com/bczopp/edda/internal/core/telemetry"
	"github.com/bczopp/edda/internal/db"
	"github.com/bczopp/edda/internal/enroll"
	"github.com/bczopp/edda/internal/heimdall"
	"github.com/bczopp/edda/internal/httpserver"
	"github.com/bczopp/edda/internal/nornen"
	"github.com/bczopp/edda/internal/odin"
	"github.com/bczopp/edda/internal/platform"
	"github.com/bczopp/edda/internal/ratatoskr"
	"github.com/bczopp/edda/internal/seed"
	eddametrics "github.com/bczopp/edda/internal/telemetry"
	"github.com/bczopp/edda/internal/version"
	"github.com/bczopp/edda/pkg/apikey"
	"github.com/bczopp/edda/pkg/messaging"
	eddaslack "github.com/bczopp/edda/pkg/slack"
)

// signingKeyID names the Heimdall authority's own Ratatoskr keypair on
// disk, distinct from the per-device keys devices hold themselves.
const signingKeyID = "heimdall-authority"

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := coretelemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting edda",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	shutdownTracer, err := coretelemetry.InitTracer(ctx, cfg.OTLPEndpoint, "edda", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	metricsReg := coretelemetry.NewMetricsRegistry(eddametrics.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
	case "bifrost":
		return runBifrost(ctx, cfg, logger, pool, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb, metricsReg)
	case "seed":
		return seed.Run(ctx, pool, cfg.DatabaseURL, cfg.MigrationsTenantDir, logger)
	case "seed-demo":
		return seed.RunDemo(ctx, pool, cfg.DatabaseURL, cfg.MigrationsTenantDir, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// heimdallCore bundles the trust-authority components every mode needs:
// role/permission evaluation, token minting and validation keyed off the
// authority's own Ratatoskr keypair, and the leak detector that watches
// token validations for anomalous device fan-out.
type heimdallCore struct {
	keys        *ratatoskr.KeyStore
	roles       *heimdall.RoleManager
	generator   *heimdall.TokenGenerator
	validator   *heimdall.TokenValidator
	revocations *heimdall.InMemoryRevocationSet
	leaks       *heimdall.LeakDetector
	challenges  *heimdall.ChallengeManager
	devices     *heimdall.DeviceStore

	// envelope validates every Ratatoskr request (schema, nonce-replay,
	// signature, timestamp-skew) against a device's registered public key,
	// per spec.md §3/§4.2. Used by runBifrost (routeFrame,
	// BifrostHandshake); runAPI does not consult it.
	envelope     *ratatoskr.Validator
	deviceLookup ratatoskr.PublicKeyLookup
}

// newHeimdallCore loads (or, on first boot, generates) the authority's
// signing keypair from cfg.KeyStoreDir and wires the rest of Heimdall's
// components around it. The keypair lifecycle itself — encrypted storage,
// rotation, dual-key acceptance during the grace period — lives entirely
// in internal/ratatoskr.KeyStore; this function only decides when to call
// Generate/Save/Load/Rotate.
func newHeimdallCore(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*heimdallCore, error) {
	kdf := ratatoskr.KDFSHA256
	if cfg.PassphraseKDF == "argon2id" {
		kdf = ratatoskr.KDFArgon2id
	}

	keys, err := ratatoskr.NewKeyStore(cfg.KeyStoreDir, kdf)
	if err != nil {
		return nil, fmt.Errorf("opening ratatoskr key store: %w", err)
	}

	kp, err := keys.Load(signingKeyID, cfg.KeyPassphrase)
	if err != nil {
		logger.Info("heimdall: no authority keypair on disk, generating one", "key_store_dir", cfg.KeyStoreDir)
		kp, err = ratatoskr.Generate()
		if err != nil {
			return nil, fmt.Errorf("generating authority keypair: %w", err)
		}
		if err := keys.Save(signingKeyID, kp, cfg.KeyPassphrase); err != nil {
			return nil, fmt.Errorf("saving authority keypair: %w", err)
		}
	} else if keys.ShouldRotate(signingKeyID, cfg.RotationInterval) {
		logger.Info("heimdall: authority keypair due for rotation", "key_id", signingKeyID)
		kp, err = keys.Rotate(signingKeyID, cfg.KeyPassphrase, cfg.KeyGracePeriod)
		if err != nil {
			return nil, fmt.Errorf("rotating authority keypair: %w", err)
		}
	}

	roles := heimdall.NewRoleManager(5 * time.Minute)

	generator := heimdall.NewTokenGenerator(kp.Private, cfg.AccessTokenTTL, cfg.SessionTokenTTL, cfg.RefreshTokenTTL)

	authorityKeys := func() (current, deprecated ed25519.PublicKey) {
		current, deprecated, err := keys.CurrentAndDeprecated(signingKeyID)
		if err != nil {
			logger.Error("heimdall: reading authority keys", "error", err)
			return nil, nil
		}
		return current, deprecated
	}
	revocations := heimdall.NewInMemoryRevocationSet()
	validator := heimdall.NewTokenValidator(authorityKeys, revocations, 4096, cfg.ProactiveRenewalThreshold)

	leaks := heimdall.NewLeakDetector(rdb, cfg.LeakDetectorWindow, cfg.MaxDevicesPerToken)

	devices := heimdall.NewDeviceStore(pool, generator, roles, logger)
	deviceLookup := func(deviceID string) (ed25519.PublicKey, error) {
		return devices.PublicKey(context.Background(), deviceID)
	}
	challenges := heimdall.NewChallengeManager(deviceLookup, 2*time.Minute)

	// ratatoskr.PublicKeyLookup wants (current, deprecated, err); device
	// keys are immutable per spec.md (a rotation creates a new device
	// record), so deprecated is always nil here.
	envelopeKeys := func(deviceID string) (current, deprecated ed25519.PublicKey, err error) {
		current, err = deviceLookup(deviceID)
		return current, nil, err
	}
	nonces := ratatoskr.NewNonceCache(rdb, cfg.NonceCacheWindow)
	envelope := ratatoskr.NewValidator(nonces, cfg.TimestampSkew)

	return &heimdallCore{
		keys:         keys,
		roles:        roles,
		generator:    generator,
		validator:    validator,
		revocations:  revocations,
		leaks:        leaks,
		challenges:   challenges,
		devices:      devices,
		envelope:     envelope,
		deviceLookup: envelopeKeys,
	}, nil
}

// messagingAlertSink bridges internal/bifrost.AlertSink to pkg/messaging,
// so intrusion alerts raised by the relay's Monitor reach whichever chat
// platform is registered (Slack today) instead of only the application log.
type messagingAlertSink struct {
	registry *messaging.Registry
	logger   *slog.Logger
}

func (s *messagingAlertSink) Send(alert bifrost.SecurityAlert) {
	for _, p := range s.registry.All() {
		_, err := p.PostSecurityAlert(context.Background(), messaging.SecurityAlertMessage{
			Kind:       string(alert.Kind),
			DeviceID:   alert.DeviceID,
			Severity:   "warning",
			Summary:    alert.Message,
			OccurredAt: time.Now(),
		})
		if err != nil {
			s.logger.Error("posting security alert", "provider", p.Name(), "error", err)
		}
	}
}

// buildMessagingRegistry registers every configured outbound messaging
// provider. Today that is Slack alone; an unconfigured provider is simply
// never registered, so alerts fall back to structured logging.
func buildMessagingRegistry(cfg *config.Config, logger *slog.Logger) *messaging.Registry {
	registry := messaging.NewRegistry()

	slackNotifier := eddaslack.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if slackNotifier.IsEnabled() {
		registry.Register(eddaslack.NewProvider(slackNotifier, logger))
		logger.Info("slack integration enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack integration disabled (SLACK_BOT_TOKEN not set)")
	}

	return registry
}

// dbRealmResolver adapts internal/db's global realm table to
// internal/enroll.RealmResolver.
type dbRealmResolver struct{ q *db.Queries }

func (r dbRealmResolver) RealmExists(ctx context.Context, slug string) (bool, error) {
	_, err := r.q.GetRealmBySlug(ctx, slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	keys := apikey.NewStore(pool)

	heim, err := newHeimdallCore(cfg, pool, rdb, logger)
	if err != nil {
		return fmt.Errorf("initializing heimdall: %w", err)
	}

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, keys)

	srv.APIRouter.Get("/status", srv.HandleStatus)

	apikeyHandler := apikey.NewHandler(logger, auditWriter, pool)
	srv.APIRouter.Mount("/api-keys", apikeyHandler.Routes())

	auditHandler := audit.NewHandler(logger, pool)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())

	msgRegistry := buildMessagingRegistry(cfg, logger)

	// Device enrollment (OIDC Authorization Code flow) is mounted
	// unauthenticated on the plain router: the device has no API key yet,
	// only the administrator's browser session with the identity provider.
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" && cfg.OIDCClientSecret != "" {
		authn, err := enroll.NewAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}

		oauth2Cfg := &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     authn.Endpoint(),
		}

		queries := db.New(pool)
		enrollHandler := enroll.NewHandler(oauth2Cfg, authn, dbRealmResolver{queries}, enroll.NewRedisStateStore(rdb), heim.devices, logger)
		srv.Router.Get("/enroll/login", enrollHandler.HandleLogin)
		srv.Router.Get("/enroll/callback", enrollHandler.HandleCallback)
		// Redeem is the device-facing half of enrollment: the new device
		// itself posts its generated Ed25519 public key together with the
		// one-time code an administrator read off HandleCallback's page.
		srv.Router.Post("/enroll/redeem", enrollHandler.HandleRedeem)
		logger.Info("device enrollment OIDC flow enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("device enrollment OIDC flow disabled (OIDC_ISSUER_URL/OIDC_CLIENT_ID/OIDC_CLIENT_SECRET not fully set)")
	}

	_ = msgRegistry // unused in api mode; runBifrost builds its own registry for its intrusion alert sink

	return serveHTTP(ctx, cfg, logger, srv)
}

// runBifrost serves the WebSocket relay: device connections authenticate
// via Heimdall token validation, then are routed/broadcast/multicast per
// spec.md §4. It shares the authority keypair and device store with the
// API process so a token minted by one is honored by the other.
func runBifrost(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	keys := apikey.NewStore(pool)

	heim, err := newHeimdallCore(cfg, pool, rdb, logger)
	if err != nil {
		return fmt.Errorf("initializing heimdall: %w", err)
	}

	guestMesh := bifrost.NewGuestMeshManager()
	connValidator := &heimdall.BifrostConnectionValidator{Validator: heimdall.NewConnectionValidator(guestMesh, heim.roles)}

	table := bifrost.NewTable()
	relayChain := bifrost.NewRelayChain() // single-node deployment: no peer-instance backends
	router := bifrost.NewRouter(table, relayChain, bifrost.DefaultRetryPolicy, cfg.BroadcastMinInterval)

	msgRegistry := buildMessagingRegistry(cfg, logger)
	alertSink := &messagingAlertSink{registry: msgRegistry, logger: logger}
	monitor := bifrost.NewMonitor(cfg.FailedAuthThreshold, cfg.InvalidMessageThreshold, cfg.TempBlockDuration, heim.revocations, alertSink)

	wsServer := &bifrost.Server{
		Table:   table,
		Router:  router,
		Monitor: monitor,
		Handshake: &heimdall.BifrostHandshake{
			Validator:  heim.validator,
			Leaks:      heim.leaks,
			Logger:     logger,
			Envelope:   heim.envelope,
			DeviceKeys: heim.deviceLookup,
		},
		Validator:         connValidator,
		EnvelopeValidator: heim.envelope,
		DeviceKeys:        heim.deviceLookup,
		Logger:            logger,
		HeartbeatMaxIdle:  60 * time.Second,
		ConnTTL:           24 * time.Hour,
	}

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, keys)
	srv.Router.Handle("/ws", wsServer)

	return serveHTTP(ctx, cfg, logger, srv)
}

func serveHTTP(ctx context.Context, cfg *config.Config, logger *slog.Logger, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker drives the background loops that don't belong on the request
// path: Odin's capability poller refreshing every registered service's
// declared capabilities, and Nornen's responsibility router standing by
// to take work the API/Bifrost processes hand off. The process serves
// only /healthz, /metrics, and the router's /nornen/route endpoint.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	logger.Info("worker started")

	cache := odin.NewCache()
	einherjarClient := odin.NewHTTPEinherjarClient(30 * time.Second)
	poller := odin.NewPoller(einherjarClient, cache, nil)

	scorer := nornen.NewScoreCalculator(nornen.DefaultWeights())
	loadTracker := nornen.NewLoadTracker(cfg.LoadWindow, 256, cfg.LoadThreshold)
	responsibilityClient := nornen.NewHTTPResponsibilityClient(30*time.Second, logger)
	router := nornen.NewRouter(cache, scorer, loadTracker, responsibilityClient, nil, nil, nil)
	routeHandler := nornen.NewHandler(router, logger)

	go poller.Run(ctx, cfg.CapabilityRefreshInterval, nil)

	mux := promMetricsOnly(metricsReg)
	mux.(*http.ServeMux).Handle("/nornen/", http.StripPrefix("/nornen", routeHandler.Routes()))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: mux,
	}
	return serveHTTPUntilDone(ctx, logger, httpSrv)
}

// promMetricsOnly serves just /healthz and /metrics, for processes (like
// the worker) that run no full domain HTTP API of their own but still need
// to be scraped and health-checked; callers may add further routes to it.
func promMetricsOnly(metricsReg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	return mux
}

func serveHTTPUntilDone(ctx context.Context, logger *slog.Logger, httpSrv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
