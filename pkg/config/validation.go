package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittodir/pkg/store/kv/codec"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Directory.FlushThreshold < cfg.Directory.ChunkSize {
		return fmt.Errorf("directory: flush_threshold (%d) must be at least chunk_size (%d)",
			cfg.Directory.FlushThreshold, cfg.Directory.ChunkSize)
	}

	if cfg.Backend.Type == "badger" {
		if compression, ok := cfg.Backend.Badger["compression"].(string); ok {
			if _, err := codec.ParseCompression(compression); err != nil {
				return fmt.Errorf("backend.badger: %w", err)
			}
		}
		if collection, ok := cfg.Backend.Badger["collection"].(string); ok && strings.Contains(collection, ":") {
			return fmt.Errorf("backend.badger: collection %q must not contain ':'", collection)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
