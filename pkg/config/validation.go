package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags handle declarative checks; validateCustomRules covers the
// relationships between fields that tags cannot express.
//
// Note: log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// A chunk plan needs the threshold above the target chunk size,
	// otherwise every "parallel" file degenerates to one chunk.
	if cfg.Concurrency.MinParallelSize < cfg.Concurrency.ChunkSize {
		return fmt.Errorf("concurrency: min_parallel_size (%s) must be >= chunk_size (%s)",
			cfg.Concurrency.MinParallelSize, cfg.Concurrency.ChunkSize)
	}

	if cfg.Storage.LockTimeout < 100*time.Millisecond {
		return fmt.Errorf("storage: lock_timeout must be at least 100ms, got %s",
			cfg.Storage.LockTimeout)
	}

	if cfg.Cache.TTLMultiplier < 1 {
		return fmt.Errorf("cache: ttl_multiplier must be >= 1, got %g",
			cfg.Cache.TTLMultiplier)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
