package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Blob          BlobConfig          `toml:"blob"`
	Queue         QueueConfig         `toml:"queue"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	OCR           OCRConfig           `toml:"ocr"`
	Translation   TranslationConfig   `toml:"translation"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Indexer       IndexerConfig       `toml:"indexer"`
	Logging       LoggingConfig       `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// BlobConfig configures the content-addressed blob store: local cache
// directory plus the remote object-store mirror.
type BlobConfig struct {
	CacheDir  string `toml:"cache_dir" validate:"required"`
	Endpoint  string `toml:"endpoint"` // Object store endpoint; empty disables mirroring
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
	KeyPrefix string `toml:"key_prefix"` // Fixed prefix for raw document keys
}

type QueueConfig struct {
	Name     string `toml:"name"`      // Queue name prefix in Badger keys
	LeaseTTL string `toml:"lease_ttl"` // e.g. "10m" - per-document lease duration
}

type SchedulerConfig struct {
	MaxConcurrentDocuments int    `toml:"max_concurrent_documents" validate:"gt=0"`
	PollInterval           string `toml:"poll_interval"`   // e.g. "1s" - main loop idle sleep
	RefillSchedule         string `toml:"refill_schedule"` // cron format (with seconds)
	RefillBatchSize        int    `toml:"refill_batch_size" validate:"gt=0"`
}

type PipelineConfig struct {
	// PandocPath is the generic document-conversion binary used for
	// office/markup doctypes.
	PandocPath string `toml:"pandoc_path"`
}

type OCRConfig struct {
	APIURL              string `toml:"api_url"`
	APIToken            string `toml:"api_token"`
	ModelVersion        string `toml:"model_version"`
	InteractiveInterval string `toml:"interactive_interval"` // poll cadence for interactive requests
	BackgroundInterval  string `toml:"background_interval"`  // poll cadence for background requests
	MaxPolls            int    `toml:"max_polls"`
}

type TranslationConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

type TranscriptionConfig struct {
	APIURL  string `toml:"api_url"`
	APIKey  string `toml:"api_key"`
	Timeout string `toml:"timeout"`
}

type IndexerConfig struct {
	APIURL  string `toml:"api_url"`
	Timeout string `toml:"timeout"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the configuration defaults applied before any
// file or environment override.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8985,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/tabula",
				ResetOnStartup: false,
			},
		},
		Blob: BlobConfig{
			CacheDir:  "./data/blobs",
			Bucket:    "tabula",
			KeyPrefix: "raw/",
		},
		Queue: QueueConfig{
			Name:     "tabula",
			LeaseTTL: "10m",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentDocuments: 4,
			PollInterval:           "1s",
			RefillSchedule:         "0 */5 * * * *", // every 5 minutes
			RefillBatchSize:        50,
		},
		Pipeline: PipelineConfig{
			PandocPath: "pandoc",
		},
		OCR: OCRConfig{
			ModelVersion:        "v2",
			InteractiveInterval: "3s",
			BackgroundInterval:  "60s",
			MaxPolls:            200,
		},
		Translation: TranslationConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			Timeout:     "5m",
		},
		Transcription: TranscriptionConfig{
			Timeout: "30m",
		},
		Indexer: IndexerConfig{
			Timeout: "2m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints plus the duration fields toml
// cannot verify on its own.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.lease_ttl":          c.Queue.LeaseTTL,
		"scheduler.poll_interval":  c.Scheduler.PollInterval,
		"ocr.interactive_interval": c.OCR.InteractiveInterval,
		"ocr.background_interval":  c.OCR.BackgroundInterval,
		"translation.timeout":      c.Translation.Timeout,
		"transcription.timeout":    c.Transcription.Timeout,
		"indexer.timeout":          c.Indexer.Timeout,
	}
	for name, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}

// Duration parses a config duration string, falling back when empty or invalid.
func Duration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config.
// Secrets (API keys, object-store credentials) are expected to arrive this
// way rather than being committed to config files.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TABULA_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("TABULA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TABULA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("TABULA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if cacheDir := os.Getenv("TABULA_BLOB_CACHE_DIR"); cacheDir != "" {
		config.Blob.CacheDir = cacheDir
	}
	if endpoint := os.Getenv("TABULA_BLOB_ENDPOINT"); endpoint != "" {
		config.Blob.Endpoint = endpoint
	}
	if accessKey := os.Getenv("TABULA_BLOB_ACCESS_KEY"); accessKey != "" {
		config.Blob.AccessKey = accessKey
	}
	if secretKey := os.Getenv("TABULA_BLOB_SECRET_KEY"); secretKey != "" {
		config.Blob.SecretKey = secretKey
	}
	if bucket := os.Getenv("TABULA_BLOB_BUCKET"); bucket != "" {
		config.Blob.Bucket = bucket
	}

	if concurrency := os.Getenv("TABULA_MAX_CONCURRENT_DOCUMENTS"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Scheduler.MaxConcurrentDocuments = c
		}
	}

	if token := os.Getenv("TABULA_OCR_API_TOKEN"); token != "" {
		config.OCR.APIToken = token
	}
	if url := os.Getenv("TABULA_OCR_API_URL"); url != "" {
		config.OCR.APIURL = url
	}

	if apiKey := os.Getenv("TABULA_TRANSLATION_API_KEY"); apiKey != "" {
		config.Translation.APIKey = apiKey
	}
	if apiKey := os.Getenv("TABULA_TRANSCRIPTION_API_KEY"); apiKey != "" {
		config.Transcription.APIKey = apiKey
	}

	if level := os.Getenv("TABULA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
