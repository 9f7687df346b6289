package config

import (
	"fmt"
	"time"
)

// fileConfig mirrors Config with optional fields so a TOML file only
// overrides the keys it sets. Durations are Go duration strings ("5m").
type fileConfig struct {
	Env         *string `toml:"env"`
	HTTPPort    *string `toml:"http_port"`
	MetricsAddr *string `toml:"metrics_addr"`
	LogLevel    *string `toml:"log_level"`
	LogFormat   *string `toml:"log_format"`

	Storage struct {
		QueueBackend    *string `toml:"queue_backend"`
		ArtifactBackend *string `toml:"artifact_backend"`
		RedisAddr       *string `toml:"redis_addr"`
		RedisPassword   *string `toml:"redis_password"`
		RedisDB         *int    `toml:"redis_db"`
		RedisKeyPrefix  *string `toml:"redis_key_prefix"`
		PostgresDSN     *string `toml:"postgres_dsn"`
		SQLitePath      *string `toml:"sqlite_path"`
	} `toml:"storage"`

	Queue struct {
		DefaultPopLimit *int    `toml:"pop_default_limit"`
		MaxPopBatch     *int    `toml:"pop_max_batch"`
		LockWindow      *string `toml:"lock_window"`
		SeedOverFetch   *int    `toml:"seed_overfetch"`
		ReapInterval    *string `toml:"reap_interval"`
		LeaseOwnership  *string `toml:"lease_ownership"`
	} `toml:"queue"`

	RateLimit struct {
		Capacity *int     `toml:"capacity"`
		Refill   *float64 `toml:"refill_per_sec"`
	} `toml:"rate_limit"`

	Preview struct {
		Bucket    *string `toml:"s3_bucket"`
		Region    *string `toml:"s3_region"`
		Endpoint  *string `toml:"s3_endpoint"`
		PathStyle *bool   `toml:"s3_path_style"`
		URLTTL    *string `toml:"url_ttl"`
	} `toml:"preview"`
}

func (f fileConfig) apply(c *Config) error {
	setString(&c.Env, f.Env)
	setString(&c.HTTPPort, f.HTTPPort)
	setString(&c.MetricsAddr, f.MetricsAddr)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)

	setString(&c.QueueBackend, f.Storage.QueueBackend)
	setString(&c.ArtifactBackend, f.Storage.ArtifactBackend)
	setString(&c.RedisAddr, f.Storage.RedisAddr)
	setString(&c.RedisPassword, f.Storage.RedisPassword)
	setInt(&c.RedisDB, f.Storage.RedisDB)
	setString(&c.RedisKeyPrefix, f.Storage.RedisKeyPrefix)
	setString(&c.PostgresDSN, f.Storage.PostgresDSN)
	setString(&c.SQLitePath, f.Storage.SQLitePath)

	setInt(&c.DefaultPopLimit, f.Queue.DefaultPopLimit)
	setInt(&c.MaxPopBatch, f.Queue.MaxPopBatch)
	setInt(&c.SeedOverFetch, f.Queue.SeedOverFetch)
	setString(&c.LeaseOwnership, f.Queue.LeaseOwnership)
	if err := setDuration(&c.LockWindow, f.Queue.LockWindow, "queue.lock_window"); err != nil {
		return err
	}
	if err := setDuration(&c.ReapInterval, f.Queue.ReapInterval, "queue.reap_interval"); err != nil {
		return err
	}

	setInt(&c.RateLimitCapacity, f.RateLimit.Capacity)
	if f.RateLimit.Refill != nil {
		c.RateLimitRefill = *f.RateLimit.Refill
	}

	setString(&c.PreviewBucket, f.Preview.Bucket)
	setString(&c.PreviewRegion, f.Preview.Region)
	setString(&c.PreviewEndpoint, f.Preview.Endpoint)
	if f.Preview.PathStyle != nil {
		c.PreviewPathStyle = *f.Preview.PathStyle
	}
	return setDuration(&c.PreviewURLTTL, f.Preview.URLTTL, "preview.url_ttl")
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
