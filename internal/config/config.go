// Package config reads the agent's settings from the environment. Flags
// registered by cmd/agent override the values loaded here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Chichichkin/ddlogs/internal/daemon"
	"github.com/Chichichkin/ddlogs/internal/logging"
	"github.com/Chichichkin/ddlogs/internal/logging/datadog"
)

const (
	BackendDatadogHTTP = "datadog-http"
	BackendDatadogTCP  = "datadog-tcp"
	BackendLoki        = "loki"

	ModeBlocking    = "blocking"
	ModeNonBlocking = "nonblocking"
)

type AppConfig struct {
	Backend    string `validate:"oneof=datadog-http datadog-tcp loki"`
	Endpoint   string `validate:"required_if=Backend loki"`
	APIKey     string `validate:"required_unless=Backend loki"`
	Compress   bool
	MaxRetries int    `validate:"min=0"`
	Mode       string `validate:"oneof=blocking nonblocking"`

	Service         string
	Source          string
	Hostname        string
	Tags            string
	ChannelCapacity int `validate:"min=0"`
	MaxBatchSize    int `validate:"min=0"`
	SelfLog         bool

	LogRootPath        string `validate:"required"`
	NodeName           string
	MinWorkers         int           `validate:"min=1"`
	MaxWorkers         int           `validate:"gtefield=MinWorkers"`
	QueueSize          int           `validate:"min=1"`
	ScanInterval       time.Duration `validate:"gt=0"`
	FileBufferSize     int
	ScaleUpThreshold   float64       `validate:"gt=0,lte=1"`
	ScaleDownThreshold float64       `validate:"gte=0,ltfield=ScaleUpThreshold"`
	ScaleCheckInterval time.Duration `validate:"gt=0"`
	FileIdleTimeout    time.Duration
	FromStart          bool
	Filter             string
	MetricsInterval    time.Duration

	LogLevel string `validate:"oneof=trace debug info warn error"`
	LogFile  string
}

// Load returns the configuration described by the process environment,
// falling back to defaults for unset or unparsable variables.
func Load() AppConfig {
	host, _ := os.Hostname()
	return AppConfig{
		Backend:    getEnv("DDLOGS_BACKEND", BackendDatadogHTTP),
		Endpoint:   getEnv("DD_LOGS_URL", ""),
		APIKey:     getEnv("DD_API_KEY", ""),
		Compress:   getEnvAsBool("DD_LOGS_COMPRESS", true),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),
		Mode:       getEnv("DDLOGS_MODE", ModeBlocking),

		Service:         getEnv("DD_SERVICE", "ddlogs-agent"),
		Source:          getEnv("DD_SOURCE", "kubernetes"),
		Hostname:        getEnv("DD_HOSTNAME", host),
		Tags:            getEnv("DD_TAGS", ""),
		ChannelCapacity: getEnvAsInt("CHANNEL_CAPACITY", 10000),
		MaxBatchSize:    getEnvAsInt("BATCH_SIZE", logging.DefaultMaxBatchSize),
		SelfLog:         getEnvAsBool("SELF_LOG", true),

		LogRootPath:        getEnv("LOG_PATH", "/var/log/pods"),
		NodeName:           getEnv("NODE_NAME", "unknown"),
		MinWorkers:         getEnvAsInt("MIN_WORKERS", 2),
		MaxWorkers:         getEnvAsInt("MAX_WORKERS", 10),
		QueueSize:          getEnvAsInt("QUEUE_SIZE", 50),
		ScanInterval:       getEnvAsDuration("SCAN_INTERVAL", 30*time.Second),
		FileBufferSize:     getEnvAsInt("FILE_BUFFER_SIZE", 1000),
		ScaleUpThreshold:   getEnvAsFloat("SCALE_UP_THRESHOLD", 0.9),
		ScaleDownThreshold: getEnvAsFloat("SCALE_DOWN_THRESHOLD", 0.3),
		ScaleCheckInterval: getEnvAsDuration("SCALE_CHECK_INTERVAL", 15*time.Second),
		FileIdleTimeout:    getEnvAsDuration("FILE_IDLE_TIMEOUT", 5*time.Minute),
		FromStart:          getEnvAsBool("FROM_START", false),
		Filter:             getEnv("LOG_FILTER", ""),
		MetricsInterval:    getEnvAsDuration("METRICS_INTERVAL", 30*time.Second),

		LogLevel: strings.ToLower(getEnv("AGENT_LOG_LEVEL", "info")),
		LogFile:  getEnv("AGENT_LOG_FILE", ""),
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func (c AppConfig) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	return nil
}

// IntakeEndpoint is Endpoint, or the default intake of the Datadog backends
// when Endpoint is unset. Loki has no default.
func (c AppConfig) IntakeEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	switch c.Backend {
	case BackendDatadogHTTP:
		return datadog.DefaultHTTPEndpoint
	case BackendDatadogTCP:
		return datadog.DefaultTCPAddress
	default:
		return ""
	}
}

// LoggerConfig is the facade configuration. extraTags are appended to Tags.
func (c AppConfig) LoggerConfig(extraTags ...string) logging.Config {
	tags := make([]string, 0, len(extraTags)+1)
	if t := strings.Trim(c.Tags, ", "); t != "" {
		tags = append(tags, t)
	}
	tags = append(tags, extraTags...)
	return logging.Config{
		Tags:                    strings.Join(tags, ","),
		Service:                 c.Service,
		Hostname:                c.Hostname,
		Source:                  c.Source,
		EnableSelfLog:           c.SelfLog,
		MessagesChannelCapacity: c.ChannelCapacity,
		MaxBatchSize:            c.MaxBatchSize,
	}
}

func (c AppConfig) DaemonConfig() daemon.Config {
	return daemon.Config{
		LogRootPath:        c.LogRootPath,
		ScanInterval:       c.ScanInterval,
		MinWorkers:         c.MinWorkers,
		MaxWorkers:         c.MaxWorkers,
		FileQueueSize:      c.QueueSize,
		NodeName:           c.NodeName,
		FileBufferSize:     c.FileBufferSize,
		ScaleUpThreshold:   c.ScaleUpThreshold,
		ScaleDownThreshold: c.ScaleDownThreshold,
		ScaleCheckInterval: c.ScaleCheckInterval,
		FileIdleTimeout:    c.FileIdleTimeout,
		FromStart:          c.FromStart,
		Filter:             c.Filter,
		MetricsInterval:    c.MetricsInterval,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
