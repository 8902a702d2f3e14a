// Package config loads the engine tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Engine tunes the scheduler, the step executor and the delay manager.
type Engine struct {
	Workers      int           `yaml:"workers"       validate:"min=1,max=256"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"     validate:"min=1s"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
	NodeTimeout  time.Duration `yaml:"node_timeout"  validate:"min=1ms"`
	MaxAttempts  int           `yaml:"max_attempts"  validate:"min=1,max=100"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"min=0"`
	ScanBatch    int           `yaml:"scan_batch"    validate:"min=1,max=10000"`
}

func DefaultEngine() Engine {
	return Engine{
		Workers:      4,
		LeaseTTL:     30 * time.Second,
		PollInterval: time.Second,
		NodeTimeout:  10 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: 0,
		ScanBatch:    100,
	}
}

var ErrInvalidEngine = errors.New("invalid engine config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the bounds of every setting.
func (e Engine) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEngine, err)
	}

	if e.PollInterval >= e.LeaseTTL {
		return fmt.Errorf("%w: poll_interval %s must be shorter than lease_ttl %s",
			ErrInvalidEngine, e.PollInterval, e.LeaseTTL)
	}

	if e.NodeTimeout >= e.LeaseTTL {
		return fmt.Errorf("%w: node_timeout %s must be shorter than lease_ttl %s",
			ErrInvalidEngine, e.NodeTimeout, e.LeaseTTL)
	}

	return nil
}

// LoadEngine reads the YAML file at path over the defaults. An empty path yields the defaults.
func LoadEngine(path string) (Engine, error) {
	engine := DefaultEngine()

	if path == "" {
		return engine, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := ParseEngine(data, &engine); err != nil {
		return Engine{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return engine, nil
}

// ParseEngine decodes YAML into engine, keeping the values of absent keys, and validates the result.
func ParseEngine(data []byte, engine *Engine) error {
	if err := yaml.Unmarshal(data, engine); err != nil {
		return err
	}

	return engine.Validate()
}
