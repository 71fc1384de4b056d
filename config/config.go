// Package config loads extension declaration files for the host. Loading
// expands ${VAR} references from the environment, parses the YAML through
// the declaration parser port, and validates every entry before anything is
// handed to the manager.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/infrastructure/parser"
)

// validate is a package-level singleton for better performance.
// Creating a new validator on each call is expensive; reusing is recommended.
var validate = validator.New()

// Option is a functional option for configuring declaration loading.
type Option func(*loader)

type loader struct {
	parser ports.DeclarationParser
	lookup func(string) (string, bool)
	strict bool
}

func defaultLoader() loader {
	return loader{
		parser: parser.NewYamlDeclarationParser(),
		lookup: os.LookupEnv,
		strict: true,
	}
}

// WithParser replaces the declaration parser.
func WithParser(p ports.DeclarationParser) Option {
	return func(l *loader) {
		if p != nil {
			l.parser = p
		}
	}
}

// WithEnvLookup replaces the environment lookup used for ${VAR} expansion.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// WithStrictExpansion controls whether an unset variable fails the load.
// Strict is the default; when disabled, unset variables expand to "".
func WithStrictExpansion(strict bool) Option {
	return func(l *loader) {
		l.strict = strict
	}
}

// Load reads and parses a declaration file.
func Load(path string, opts ...Option) ([]entities.ExtensionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read declarations %s: %w", path, err)
	}
	return Parse(data, opts...)
}

// Parse expands, parses, and validates declaration bytes. Validation reports
// every problem in the file rather than stopping at the first; a file with
// any invalid entry is rejected whole.
func Parse(data []byte, opts ...Option) ([]entities.ExtensionConfig, error) {
	l := defaultLoader()
	for _, opt := range opts {
		opt(&l)
	}

	expanded, err := expandVars(string(data), l.lookup, l.strict)
	if err != nil {
		return nil, err
	}

	configs, err := l.parser.Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	var errs []error
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if cfg.Name != "" && seen[cfg.Name] {
			errs = append(errs, fmt.Errorf("extension %q: duplicate name", cfg.Name))
			continue
		}
		seen[cfg.Name] = true
		errs = append(errs, validateEntry(cfg)...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return configs, nil
}

// validateEntry runs both the struct tags and the entity's own checks.
func validateEntry(cfg entities.ExtensionConfig) []error {
	var errs []error

	if result := cfg.Validate(); !result.Valid {
		for _, ve := range result.Errors {
			errs = append(errs, fmt.Errorf("extension %q: %w", cfg.Name,
				&domerrors.InvalidSourceError{Field: ve.Field, Reason: ve.Message}))
		}
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Errorf("extension %q: field %s failed %q validation",
					cfg.Name, fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, fmt.Errorf("extension %q: %w", cfg.Name, err))
		}
	}

	return errs
}

// expandVars substitutes ${VAR} and $VAR from the lookup. "$$" escapes a
// literal dollar sign. In strict mode every unset variable is collected and
// reported by name.
func expandVars(s string, lookup func(string) (string, bool), strict bool) (string, error) {
	missing := make(map[string]bool)

	expanded := os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		value, ok := lookup(name)
		if !ok {
			missing[name] = true
			return ""
		}
		return value
	})

	if strict && len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("undefined variables in declarations: %s", strings.Join(names, ", "))
	}

	return expanded, nil
}
