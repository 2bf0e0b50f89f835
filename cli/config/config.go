package config

import (
	"fmt"
	"time"
)

// Config represents a ucdsync.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	LogLevel  string         `yaml:"log_level"`
	Upstream  UpstreamConfig `yaml:"upstream"`
	Crawl     CrawlConfig    `yaml:"crawl"`
	Storage   StorageConfig  `yaml:"storage"`
	State     BackendConfig  `yaml:"state"`
	Manifests BackendConfig  `yaml:"manifests"`
	Workflow  WorkflowConfig `yaml:"workflow"`
	Caches    CachesConfig   `yaml:"caches"`
	Adapter   AdapterConfig  `yaml:"adapter"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// UpstreamConfig describes the upstream file tree.
type UpstreamConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Timeout      Duration `yaml:"timeout"`
	Retries      *int     `yaml:"retries,omitempty"`
	RetryWaitMin Duration `yaml:"retry_wait_min"`
	RetryWaitMax Duration `yaml:"retry_wait_max"`
	UserAgent    string   `yaml:"user_agent"`
}

// CrawlConfig holds manifest refresh defaults.
type CrawlConfig struct {
	Versions   []string `yaml:"versions"`
	BatchSize  int      `yaml:"batch_size"`
	BatchDelay Duration `yaml:"batch_delay"`
	Interval   Duration `yaml:"interval"`
}

// StorageConfig holds blob store defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	UseSSL      bool   `yaml:"use_ssl"`
}

// BackendConfig selects where workflow state or manifests live: "blob"
// (the configured storage) or "redis".
type BackendConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
}

// WorkflowConfig tunes the upload workflow engine.
type WorkflowConfig struct {
	MaxArchiveBytes     int64    `yaml:"max_archive_bytes"`
	MaxExtractedBytes   int64    `yaml:"max_extracted_bytes"`
	UploadBatchSize     int      `yaml:"upload_batch_size"`
	ValidateConcurrency int      `yaml:"validate_concurrency"`
	Attempts            int      `yaml:"attempts"`
	RetryBaseDelay      Duration `yaml:"retry_base_delay"`
	StepTimeout         Duration `yaml:"step_timeout"`
	PurgeTimeout        Duration `yaml:"purge_timeout"`
}

// CachesConfig configures downstream cache invalidation.
type CachesConfig struct {
	// Purger is "http" (default) or "redis".
	Purger      string            `yaml:"purger"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	URL         string            `yaml:"url"`
	Prefix      string            `yaml:"prefix"`
	Timeout     Duration          `yaml:"timeout"`
	Concurrency int               `yaml:"concurrency"`
	Named       []NamedCache      `yaml:"named"`
}

// NamedCache is one downstream cache and its {version} route templates.
type NamedCache struct {
	Name   string   `yaml:"name"`
	Routes []string `yaml:"routes"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
