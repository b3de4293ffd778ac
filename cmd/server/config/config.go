package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds listener addresses and process-level paths.
type ServerConfig struct {
	HTTPAddr      string
	GRPCAddr      string
	DatabaseURL   string
	JournalPath   string
	ShutdownGrace time.Duration
}

// RedisConfig holds connection settings for the webhook response cache.
// An empty URL disables the cache.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// Enabled reports whether a Redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds HTTP ingress throttling settings. Both fields must
// be set together; leaving them unset disables throttling.
type RateLimitConfig struct {
	Interval time.Duration
	Burst    int
}

// Enabled reports whether throttling was configured.
func (c RateLimitConfig) Enabled() bool {
	return c.Interval > 0 && c.Burst > 0
}

// LoadServer reads listener addresses and paths from env. DATABASE_URL and
// EVENT_JOURNAL_PATH are optional; without them order state stays in memory
// and lifecycle events go to the process log only.
func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddr:      strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		GRPCAddr:      strings.TrimSpace(os.Getenv("GRPC_ADDR")),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JournalPath:   strings.TrimSpace(os.Getenv("EVENT_JOURNAL_PATH")),
		ShutdownGrace: 10 * time.Second,
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":50051"
	}

	grace, err := optionalDuration("SHUTDOWN_GRACE")
	if err != nil {
		return cfg, err
	}
	if grace != nil {
		cfg.ShutdownGrace = *grace
	}

	return cfg, nil
}

// LoadRedis reads webhook cache settings from env. REDIS_URL is optional;
// when absent the returned config reports Enabled() == false.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL:                strings.TrimSpace(os.Getenv("REDIS_URL")),
		HealthcheckTimeout: 5 * time.Second,
	}
	if cfg.URL == "" {
		return cfg, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	healthcheck, err := optionalDuration("REDIS_HEALTHCHECK_TIMEOUT")
	if err != nil {
		return cfg, err
	}
	if healthcheck != nil {
		cfg.HealthcheckTimeout = *healthcheck
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadRateLimit reads HTTP ingress throttling settings from env.
func LoadRateLimit() (RateLimitConfig, error) {
	interval, err := optionalDuration("HTTP_RATE_LIMIT_INTERVAL")
	if err != nil {
		return RateLimitConfig{}, err
	}
	burst, err := optionalInt("HTTP_RATE_LIMIT_BURST")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if (interval == nil) != (burst == nil) {
		return RateLimitConfig{}, errors.New("HTTP_RATE_LIMIT_INTERVAL and HTTP_RATE_LIMIT_BURST must be set together")
	}
	if interval == nil {
		return RateLimitConfig{}, nil
	}
	return RateLimitConfig{Interval: *interval, Burst: *burst}, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
