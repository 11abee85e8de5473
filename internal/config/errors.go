package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid override, option or definition file.
// Configuration errors are fatal before any batch runs.
type ConfigurationError struct {
	// Target names the option set or file being configured.
	Target string
	// Source is where the offending override came from, if known.
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error in %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("configuration error in %s (from %s): %v", e.Target, e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
