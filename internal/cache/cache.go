// Package cache provides the Redis-backed realtime power cache. The web API
// serves dashboard power widgets from here so repeated page loads do not fan
// out to the upstream monitoring platform.
package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"solarsync/internal/models"
)

// ErrCacheMiss is returned when no snapshot is stored for the requested plant.
var ErrCacheMiss = errors.New("cache miss")

// DefaultSnapshotTTL bounds how stale a served power snapshot can be. Sync
// runs every ten minutes, so entries older than that are discarded.
const DefaultSnapshotTTL = 15 * time.Minute

// TLSConfig controls TLS behaviour for Redis connections.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config configures the Redis-backed power cache.
type Config struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	MasterName   string
	KeyPrefix    string
	SnapshotTTL  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Logger       *slog.Logger
	TLS          TLSConfig
}

// PowerCache stores the latest realtime power snapshot per plant in Redis.
type PowerCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// New connects to Redis and returns a PowerCache. The caller is responsible
// for ensuring the Redis instance is reachable.
func New(cfg Config) (*PowerCache, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "solarsync"
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	cache := &PowerCache{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
		logger:    cfg.Logger,
	}
	if cache.logger == nil {
		cache.logger = slog.Default()
	}
	return cache, nil
}

// Ping verifies the Redis connection.
func (c *PowerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client resources.
func (c *PowerCache) Close() error {
	return c.client.Close()
}

func (c *PowerCache) powerKey(plantID int64) string {
	return fmt.Sprintf("%s:power:%d", c.keyPrefix, plantID)
}

// StoreRealtime caches the plant's latest power snapshot.
func (c *PowerCache) StoreRealtime(ctx context.Context, snapshot models.RealtimePower) error {
	if snapshot.PlantID == 0 {
		return fmt.Errorf("plant id is required")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode power snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.powerKey(snapshot.PlantID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("store power snapshot: %w", err)
	}
	return nil
}

// Realtime returns the cached power snapshot for the plant, or ErrCacheMiss
// when nothing usable is stored.
func (c *PowerCache) Realtime(ctx context.Context, plantID int64) (models.RealtimePower, error) {
	raw, err := c.client.Get(ctx, c.powerKey(plantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.RealtimePower{}, ErrCacheMiss
		}
		return models.RealtimePower{}, fmt.Errorf("load power snapshot: %w", err)
	}
	var snapshot models.RealtimePower
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// A corrupt entry is treated as a miss so the caller falls back
		// to the upstream API.
		c.logger.Warn("discarding corrupt power snapshot", "plant_id", plantID, "error", err)
		_ = c.client.Del(ctx, c.powerKey(plantID)).Err()
		return models.RealtimePower{}, ErrCacheMiss
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot for the plant.
func (c *PowerCache) Invalidate(ctx context.Context, plantID int64) error {
	return c.client.Del(ctx, c.powerKey(plantID)).Err()
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
