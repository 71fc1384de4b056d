package gantry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the init config delivered at load time, decoded from JSON.
// Numbers arrive as float64, arrays as []any.
type Config map[string]any

// ConfigError reports a missing or mistyped config field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// GetString extracts a string value. The second return is false when the
// key is absent or holds another type.
func GetString(cfg Config, key string) (string, bool) {
	v, ok := cfg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt extracts an int value. JSON numbers decode as float64, so both
// forms are accepted.
func GetInt(cfg Config, key string) (int, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GetFloat extracts a float64 value, accepting integer forms as well.
func GetFloat(cfg Config, key string) (float64, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetBool extracts a bool value.
func GetBool(cfg Config, key string) (bool, bool) {
	v, ok := cfg[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetStringSlice extracts a []string value. JSON arrays decode as []any;
// any non-string element rejects the whole slice.
func GetStringSlice(cfg Config, key string) ([]string, bool) {
	v, ok := cfg[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// MustGetString extracts a required string value or returns a ConfigError.
func MustGetString(cfg Config, key string) (string, error) {
	s, ok := GetString(cfg, key)
	if !ok {
		return "", &ConfigError{Field: key, Err: errors.New("required string missing or mistyped")}
	}
	return s, nil
}

// MustGetInt extracts a required int value or returns a ConfigError.
func MustGetInt(cfg Config, key string) (int, error) {
	i, ok := GetInt(cfg, key)
	if !ok {
		return 0, &ConfigError{Field: key, Err: errors.New("required int missing or mistyped")}
	}
	return i, nil
}

// MustGetBool extracts a required bool value or returns a ConfigError.
func MustGetBool(cfg Config, key string) (bool, error) {
	b, ok := GetBool(cfg, key)
	if !ok {
		return false, &ConfigError{Field: key, Err: errors.New("required bool missing or mistyped")}
	}
	return b, nil
}

// GetStringDefault extracts a string value, falling back on absence or
// type mismatch.
func GetStringDefault(cfg Config, key, fallback string) string {
	if s, ok := GetString(cfg, key); ok {
		return s
	}
	return fallback
}

// GetIntDefault extracts an int value, falling back on absence or type
// mismatch.
func GetIntDefault(cfg Config, key string, fallback int) int {
	if i, ok := GetInt(cfg, key); ok {
		return i
	}
	return fallback
}

// GetBoolDefault extracts a bool value, falling back on absence or type
// mismatch.
func GetBoolDefault(cfg Config, key string, fallback bool) bool {
	if b, ok := GetBool(cfg, key); ok {
		return b
	}
	return fallback
}

// validate is shared across calls; building a validator per call is the
// expensive path.
var validate = validator.New()

// ValidateConfig decodes the config map into target, a struct pointer
// carrying validate tags, and runs the validator over it. The typical
// OnInit hook is a ValidateConfig call and nothing else.
func ValidateConfig(cfg Config, target any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config map: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode config into %T: %w", target, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
