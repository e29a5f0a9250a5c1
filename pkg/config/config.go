// Package config loads process configuration from the environment, with
// an optional YAML seed file for initial corpus data.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	LogLevel    string
	DatabaseURL string

	StorageBackend string // local | s3 | gcs
	StoragePath    string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string

	LLMAPIKey      string
	LLMBaseURL     string
	ReaderModel    string
	ValidatorModel string

	ConnectorTimeout time.Duration
	ReviewPriority   int // priority assigned to discovery_needed queue items

	OTLPEndpoint string // empty disables OTel export
	Environment  string
}

// Load reads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "tariffcore.db"
	}

	backend := os.Getenv("STORAGE_BACKEND")
	if backend == "" {
		backend = "local"
	}
	storagePath := os.Getenv("STORAGE_PATH")
	if storagePath == "" {
		storagePath = "./storage"
	}

	readerModel := os.Getenv("READER_MODEL")
	if readerModel == "" {
		readerModel = "gpt-4o"
	}
	validatorModel := os.Getenv("VALIDATOR_MODEL")
	if validatorModel == "" {
		validatorModel = readerModel
	}

	timeout := 30 * time.Second
	if v := os.Getenv("CONNECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	priority := 5
	if v := os.Getenv("REVIEW_PRIORITY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			priority = n
		}
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	return &Config{
		LogLevel:         logLevel,
		DatabaseURL:      dbURL,
		StorageBackend:   backend,
		StoragePath:      storagePath,
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		ReaderModel:      readerModel,
		ValidatorModel:   validatorModel,
		ConnectorTimeout: timeout,
		ReviewPriority:   priority,
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:      environment,
	}
}
