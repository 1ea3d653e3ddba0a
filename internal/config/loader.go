package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrThrottleProfileNotFound is returned when the throttle profile
// file does not exist.
var ErrThrottleProfileNotFound = errors.New("throttle profile not found")

// LoadThrottleProfile reads a YAML pacing profile and overlays it on
// the defaults. Missing keys keep their default values, so a profile
// may specify only the fields it wants to change:
//
//	requests_per_second: 2.5
//	max_retries: 8
//	backoff_base: 5s
func LoadThrottleProfile(path string) (Throttle, error) {
	t := DefaultThrottle()

	data, err := os.ReadFile(path) //nolint:gosec // User-provided profile path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return t, ErrThrottleProfileNotFound
		}
		return t, err
	}

	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse throttle profile %s: %w", path, err)
	}
	return t, nil
}

// UnmarshalYAML decodes a pacing profile, keeping the receiver's value
// for any key the document omits. Durations are written in Go duration
// syntax ("5s", "2m"), which yaml cannot decode into time.Duration on
// its own.
func (t *Throttle) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RequestsPerSecond       *float64 `yaml:"requests_per_second"`
		PersonConcurrency       *int     `yaml:"max_concurrent_person_requests"`
		RelationshipConcurrency *int     `yaml:"max_concurrent_relationship_requests"`
		MaxRetries              *int     `yaml:"max_retries"`
		BackoffBase             *string  `yaml:"backoff_base"`
		BackoffMultiplier       *float64 `yaml:"backoff_multiplier"`
		BackoffMax              *string  `yaml:"backoff_max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.RequestsPerSecond != nil {
		t.RequestsPerSecond = *raw.RequestsPerSecond
	}
	if raw.PersonConcurrency != nil {
		t.PersonConcurrency = *raw.PersonConcurrency
	}
	if raw.RelationshipConcurrency != nil {
		t.RelationshipConcurrency = *raw.RelationshipConcurrency
	}
	if raw.MaxRetries != nil {
		t.MaxRetries = *raw.MaxRetries
	}
	if raw.BackoffMultiplier != nil {
		t.BackoffMultiplier = *raw.BackoffMultiplier
	}
	for _, field := range []struct {
		raw  *string
		dst  *time.Duration
		name string
	}{
		{raw.BackoffBase, &t.BackoffBase, "backoff_base"},
		{raw.BackoffMax, &t.BackoffMax, "backoff_max"},
	} {
		if field.raw == nil {
			continue
		}
		d, err := time.ParseDuration(*field.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}
