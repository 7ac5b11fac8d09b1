package logging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxBatchSize is the number of records that forces a flush.
	DefaultMaxBatchSize = 50
	// SelfLogCapacity bounds the diagnostic channel.
	SelfLogCapacity = 100
	defaultSource   = "go"
)

var ErrInvalidConfig = errors.New("invalid logger config")

// Config holds the per-logger defaults merged into every record plus the
// dispatch settings.
type Config struct {
	// Tags is a comma separated list, e.g. "env:prod,team:core".
	Tags     string
	Service  string
	Hostname string
	Source   string `validate:"required"`

	EnableSelfLog bool
	// MessagesChannelCapacity bounds the producer queue. 0 means unbounded.
	MessagesChannelCapacity int `validate:"min=0"`
	// MaxBatchSize overrides DefaultMaxBatchSize when positive.
	MaxBatchSize int `validate:"min=0"`
}

var (
	validate *validator.Validate
	once     sync.Once
)

// WithDefaults returns a copy of c with empty fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}

func (c Config) Validate() error {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
