package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries the service settings. Everything comes from the environment;
// defaults match a local development setup.
type Config struct {
	IdempotencyTable string
	JobsTable        string
	ResourcesTable   string
	OwnersTable      string
	QueueURL         string
	MetricsNamespace string

	ResultTTL    time.Duration // replay window, counted from completion
	WaitBound    time.Duration // max time a duplicate caller blocks
	PollInterval time.Duration

	RunLocal bool
}

// Load reads configuration from the environment via viper.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("IDEMPOTENCY_TABLE", "jobflow-idempotency")
	v.SetDefault("JOBS_TABLE", "jobflow-jobs")
	v.SetDefault("RESOURCES_TABLE", "jobflow-resources")
	v.SetDefault("OWNERS_TABLE", "jobflow-owners")
	v.SetDefault("PURGE_QUEUE_URL", "")
	v.SetDefault("METRICS_NAMESPACE", "JobFlow")
	v.SetDefault("RESULT_TTL_SECONDS", 48*60*60)
	v.SetDefault("WAIT_BOUND_SECONDS", 10)
	v.SetDefault("POLL_INTERVAL_MS", 100)
	v.SetDefault("RUN_LOCAL", false)

	return &Config{
		IdempotencyTable: v.GetString("IDEMPOTENCY_TABLE"),
		JobsTable:        v.GetString("JOBS_TABLE"),
		ResourcesTable:   v.GetString("RESOURCES_TABLE"),
		OwnersTable:      v.GetString("OWNERS_TABLE"),
		QueueURL:         v.GetString("PURGE_QUEUE_URL"),
		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),
		ResultTTL:        time.Duration(v.GetInt("RESULT_TTL_SECONDS")) * time.Second,
		WaitBound:        time.Duration(v.GetInt("WAIT_BOUND_SECONDS")) * time.Second,
		PollInterval:     time.Duration(v.GetInt("POLL_INTERVAL_MS")) * time.Millisecond,
		RunLocal:         v.GetBool("RUN_LOCAL"),
	}
}
