// Command sync runs one scheduled synchronisation job against the upstream
// monitoring platform and exits. It is designed to be invoked from cron or a
// Kubernetes CronJob.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"solarsync/internal/cache"
	"solarsync/internal/observability/logging"
	"solarsync/internal/observability/metrics"
	"solarsync/internal/storage"
	"solarsync/internal/sunsynk"
	"solarsync/internal/workflows"
)

func main() {
	job := flag.String("job", "", "sync job to run (plants, inverters, power, daily-report, match-estates)")
	mode := flag.String("mode", "energy", "power ingest mode (energy or realtime)")
	ignoreFailures := flag.Bool("ignore-failures", false, "exit zero even when some items failed")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the realtime power cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the realtime power cache")
	sunsynkUsername := flag.String("sunsynk-username", "", "upstream monitoring account username")
	sunsynkPassword := flag.String("sunsynk-password", "", "upstream monitoring account password")
	sunsynkBaseURL := flag.String("sunsynk-base-url", "", "upstream monitoring API base URL")
	sunsynkAuthURL := flag.String("sunsynk-auth-url", "", "upstream monitoring token endpoint")
	lan := flag.String("lan", "", "upstream response language")
	timezone := flag.String("timezone", "", "fleet local timezone for day-chart anchoring")
	timeout := flag.Duration("timeout", 0, "overall job deadline")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SOLARSYNC_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("SOLARSYNC_LOG_FORMAT")),
	})

	jobName := strings.ToLower(strings.TrimSpace(firstNonEmpty(*job, os.Getenv("SOLARSYNC_SYNC_JOB"))))
	if jobName == "" {
		logger.Error("no job selected, pass -job plants|inverters|power|daily-report|match-estates")
		os.Exit(2)
	}

	ingestMode, err := workflows.ParseIngestMode(firstNonEmpty(*mode, os.Getenv("SOLARSYNC_SYNC_MODE"), "energy"))
	if err != nil {
		logger.Error("invalid power ingest mode", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	if deadline := resolveDuration(*timeout, "SOLARSYNC_SYNC_TIMEOUT", 0); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	store, storeClose, err := openStore(*storageDriver, *dataPath, *postgresDSN)
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer storeClose()

	upstream, err := sunsynk.New(ctx, sunsynk.Config{
		Credentials: sunsynk.Credentials{
			Username: firstNonEmpty(*sunsynkUsername, os.Getenv("SOLARSYNC_SUNSYNK_USERNAME")),
			Password: firstNonEmpty(*sunsynkPassword, os.Getenv("SOLARSYNC_SUNSYNK_PASSWORD")),
		},
		BaseURL: firstNonEmpty(*sunsynkBaseURL, os.Getenv("SOLARSYNC_SUNSYNK_BASE_URL")),
		AuthURL: firstNonEmpty(*sunsynkAuthURL, os.Getenv("SOLARSYNC_SUNSYNK_AUTH_URL")),
		Logger:  logging.WithComponent(logger, "sunsynk"),
		Metrics: metrics.Default(),
	})
	if err != nil {
		logger.Error("failed to authenticate with upstream platform", "error", err)
		os.Exit(1)
	}

	var powerCache workflows.PowerCacher
	if cacheAddr := firstNonEmpty(*cacheRedisAddr, os.Getenv("SOLARSYNC_CACHE_REDIS_ADDR")); cacheAddr != "" {
		pc, err := cache.New(cache.Config{
			Addr:     cacheAddr,
			Password: firstNonEmpty(*cacheRedisPassword, os.Getenv("SOLARSYNC_CACHE_REDIS_PASSWORD")),
			Logger:   logging.WithComponent(logger, "cache"),
		})
		if err != nil {
			logger.Error("failed to configure power cache", "error", err)
			os.Exit(1)
		}
		defer pc.Close()
		powerCache = pc
	}

	var location *time.Location
	if tz := firstNonEmpty(*timezone, os.Getenv("SOLARSYNC_TIMEZONE")); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			logger.Error("invalid timezone", "timezone", tz, "error", err)
			os.Exit(2)
		}
	}

	runner, err := workflows.NewRunner(workflows.Config{
		Upstream: upstream,
		Store:    store,
		Cache:    powerCache,
		Logger:   logging.WithComponent(logger, "sync"),
		Metrics:  metrics.Default(),
		Lan:      firstNonEmpty(*lan, os.Getenv("SOLARSYNC_SUNSYNK_LAN")),
		Location: location,
	})
	if err != nil {
		logger.Error("failed to build sync runner", "error", err)
		os.Exit(1)
	}

	result, err := runJob(ctx, runner, jobName, ingestMode)
	if err != nil {
		logger.Error("sync job failed", "job", jobName, "error", err)
		os.Exit(1)
	}

	logger.Info("sync job completed",
		"job", result.Job,
		"run_id", result.RunID,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration.String())

	if result.Failed > 0 && !resolveBool(*ignoreFailures, "SOLARSYNC_SYNC_IGNORE_FAILURES") {
		logger.Error("sync job finished with item failures", "failed", result.Failed)
		os.Exit(1)
	}
}

func runJob(ctx context.Context, runner *workflows.Runner, job string, mode workflows.IngestMode) (workflows.Result, error) {
	switch job {
	case "plants":
		return runner.SyncPlants(ctx)
	case "inverters":
		return runner.SyncInverters(ctx)
	case "power":
		return runner.IngestPower(ctx, mode)
	case "daily-report":
		return runner.SnapshotDailyReports(ctx)
	case "match-estates":
		return runner.MatchEstates(ctx)
	default:
		return workflows.Result{}, fmt.Errorf("unknown job %q", job)
	}
}

func openStore(flagDriver, flagData, flagDSN string) (storage.Repository, func(), error) {
	dsn := strings.TrimSpace(firstNonEmpty(flagDSN, os.Getenv("SOLARSYNC_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	driver := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagDriver, os.Getenv("SOLARSYNC_STORAGE_DRIVER"))))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}

	switch driver {
	case "json":
		path := firstNonEmpty(flagData, os.Getenv("SOLARSYNC_DATA"), "data/store.json")
		store, err := storage.NewStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres storage selected without DSN")
		}
		store, err := storage.NewPostgresRepository(dsn)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if closer, ok := store.(interface{ Close(context.Context) error }); ok {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = closer.Close(closeCtx)
				cancel()
			}
		}
		return store, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
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

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
