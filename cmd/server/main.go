// Command server starts the solarsync API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"solarsync/internal/api"
	"solarsync/internal/auth"
	"solarsync/internal/cache"
	"solarsync/internal/messaging"
	"solarsync/internal/observability/logging"
	"solarsync/internal/observability/metrics"
	"solarsync/internal/server"
	"solarsync/internal/storage"
	"solarsync/internal/sunsynk"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "refresh token store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the refresh token store")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for signing access tokens")
	jwtIssuer := flag.String("jwt-issuer", "", "issuer claim stamped on access tokens")
	accessTTL := flag.Duration("access-token-ttl", 0, "access token lifetime")
	refreshTTL := flag.Duration("refresh-token-ttl", 0, "refresh token lifetime")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired refresh token sweeps")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum credential attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting credential attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	adminOrigins := flag.String("admin-origins", "", "comma separated origins allowed for the admin UI")
	dashboardOrigins := flag.String("dashboard-origins", "", "comma separated origins allowed for the dashboard UI")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the realtime power cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the realtime power cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database for the realtime power cache")
	cacheKeyPrefix := flag.String("cache-key-prefix", "", "key prefix for cached power snapshots")
	cacheSnapshotTTL := flag.Duration("cache-snapshot-ttl", 0, "maximum age served from the power cache")
	sunsynkUsername := flag.String("sunsynk-username", "", "upstream monitoring account username")
	sunsynkPassword := flag.String("sunsynk-password", "", "upstream monitoring account password")
	sunsynkBaseURL := flag.String("sunsynk-base-url", "", "upstream monitoring API base URL")
	sunsynkAuthURL := flag.String("sunsynk-auth-url", "", "upstream monitoring token endpoint")
	clickatellKey := flag.String("clickatell-api-key", "", "Clickatell Platform API key for outbound SMS")
	whatsappPhoneID := flag.String("whatsapp-phone-id", "", "WhatsApp Business phone number ID")
	whatsappToken := flag.String("whatsapp-access-token", "", "WhatsApp Business Cloud API access token")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SOLARSYNC_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("SOLARSYNC_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("SOLARSYNC_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver := resolveStorageDriver(*storageDriver, os.Getenv("SOLARSYNC_STORAGE_DRIVER"), postgresDefaultDSN)

	var (
		store storage.Repository
		err   error
	)
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("SOLARSYNC_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "SOLARSYNC_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "SOLARSYNC_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "SOLARSYNC_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "SOLARSYNC_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "SOLARSYNC_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "SOLARSYNC_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("SOLARSYNC_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	secret := firstNonEmpty(*jwtSecret, os.Getenv("SOLARSYNC_JWT_SECRET"))
	if secret == "" {
		logger.Error("SOLARSYNC_JWT_SECRET is required")
		os.Exit(1)
	}
	issuerName := firstNonEmpty(*jwtIssuer, os.Getenv("SOLARSYNC_JWT_ISSUER"))
	if issuerName == "" {
		issuerName = "solarsync"
	}
	var tokenOptions []auth.TokenIssuerOption
	if ttl := resolveDuration(*accessTTL, "SOLARSYNC_ACCESS_TOKEN_TTL", 0); ttl > 0 {
		tokenOptions = append(tokenOptions, auth.WithAccessTokenTTL(ttl))
	}
	tokens, err := auth.NewTokenIssuer([]byte(secret), issuerName, tokenOptions...)
	if err != nil {
		logger.Error("failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("SOLARSYNC_SESSION_STORE"),
		driver,
		postgresDefaultDSN,
		*sessionPostgresDSN,
		os.Getenv("SOLARSYNC_SESSION_POSTGRES_DSN"),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.RefreshStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemoryRefreshStore()
	case "postgres":
		pgStore, err := auth.NewPostgresRefreshStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open refresh token store", "error", err)
			os.Exit(1)
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pgStore.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to migrate refresh token store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	refreshLifetime := resolveDuration(*refreshTTL, "SOLARSYNC_REFRESH_TOKEN_TTL", 0)
	sessions := auth.NewSessionManager(refreshLifetime, auth.WithStore(sessionStore))

	handler := api.NewHandler(store, sessions, tokens)
	handler.Logger = logging.WithComponent(logger, "api")

	var powerCache *cache.PowerCache
	if cacheAddr := firstNonEmpty(*cacheRedisAddr, os.Getenv("SOLARSYNC_CACHE_REDIS_ADDR")); cacheAddr != "" {
		powerCache, err = cache.New(cache.Config{
			Addr:        cacheAddr,
			Password:    firstNonEmpty(*cacheRedisPassword, os.Getenv("SOLARSYNC_CACHE_REDIS_PASSWORD")),
			DB:          resolveInt(*cacheRedisDB, "SOLARSYNC_CACHE_REDIS_DB"),
			KeyPrefix:   firstNonEmpty(*cacheKeyPrefix, os.Getenv("SOLARSYNC_CACHE_KEY_PREFIX")),
			SnapshotTTL: resolveDuration(*cacheSnapshotTTL, "SOLARSYNC_CACHE_SNAPSHOT_TTL", 0),
			Logger:      logging.WithComponent(logger, "cache"),
		})
		if err != nil {
			logger.Error("failed to configure power cache", "error", err)
			os.Exit(1)
		}
		handler.Power = powerCache
	}

	upstreamUsername := firstNonEmpty(*sunsynkUsername, os.Getenv("SOLARSYNC_SUNSYNK_USERNAME"))
	upstreamPassword := firstNonEmpty(*sunsynkPassword, os.Getenv("SOLARSYNC_SUNSYNK_PASSWORD"))
	if upstreamUsername != "" && upstreamPassword != "" {
		authCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		live, err := sunsynk.New(authCtx, sunsynk.Config{
			Credentials: sunsynk.Credentials{Username: upstreamUsername, Password: upstreamPassword},
			BaseURL:     firstNonEmpty(*sunsynkBaseURL, os.Getenv("SOLARSYNC_SUNSYNK_BASE_URL")),
			AuthURL:     firstNonEmpty(*sunsynkAuthURL, os.Getenv("SOLARSYNC_SUNSYNK_AUTH_URL")),
			Logger:      logging.WithComponent(logger, "sunsynk"),
			Metrics:     recorder,
		})
		cancel()
		if err != nil {
			logger.Error("failed to authenticate with upstream platform", "error", err)
			os.Exit(1)
		}
		handler.Live = live
	} else {
		logger.Info("live proxy endpoints disabled, no upstream credentials configured")
	}

	if apiKey := firstNonEmpty(*clickatellKey, os.Getenv("SOLARSYNC_CLICKATELL_API_KEY")); apiKey != "" {
		sms, err := messaging.NewSMSSender(messaging.SMSConfig{
			APIKey:  apiKey,
			Logger:  logging.WithComponent(logger, "sms"),
			Metrics: recorder,
		})
		if err != nil {
			logger.Error("failed to configure SMS sender", "error", err)
			os.Exit(1)
		}
		handler.SMS = sms
	}

	phoneID := firstNonEmpty(*whatsappPhoneID, os.Getenv("SOLARSYNC_WHATSAPP_PHONE_ID"))
	accessToken := firstNonEmpty(*whatsappToken, os.Getenv("SOLARSYNC_WHATSAPP_ACCESS_TOKEN"))
	if phoneID != "" && accessToken != "" {
		whatsapp, err := messaging.NewWhatsAppSender(messaging.WhatsAppConfig{
			PhoneID:     phoneID,
			AccessToken: accessToken,
			Logger:      logging.WithComponent(logger, "whatsapp"),
			Metrics:     recorder,
		})
		if err != nil {
			logger.Error("failed to configure WhatsApp sender", "error", err)
			os.Exit(1)
		}
		handler.WhatsApp = whatsapp
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("SOLARSYNC_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("SOLARSYNC_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "SOLARSYNC_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "SOLARSYNC_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "SOLARSYNC_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "SOLARSYNC_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("SOLARSYNC_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("SOLARSYNC_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "SOLARSYNC_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AdminOrigins:     splitAndTrim(firstNonEmpty(*adminOrigins, os.Getenv("SOLARSYNC_ADMIN_ORIGINS"))),
			DashboardOrigins: splitAndTrim(firstNonEmpty(*dashboardOrigins, os.Getenv("SOLARSYNC_DASHBOARD_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeInterval := resolveDuration(*sessionPurgeInterval, "SOLARSYNC_SESSION_PURGE_INTERVAL", 15*time.Minute)
	purgeStop := startSessionPurgeWorker(ctx, logging.WithComponent(logger, "session-purger"), sessions, purgeInterval)
	defer purgeStop()

	logger.Info("solarsync API listening", "addr", listenAddr, "storage_driver", driver)
	logger.Info("metrics endpoint available", "path", "/metrics")
	runErr := srv.Run(ctx)

	purgeStop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if powerCache != nil {
		if err := powerCache.Close(); err != nil {
			logger.Warn("failed to close power cache", "error", err)
		}
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}
	if sessionCloser != nil {
		if err := sessionCloser(closeCtx); err != nil {
			logger.Warn("failed to close refresh token store", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
		case sessionDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storageDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("SOLARSYNC_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
