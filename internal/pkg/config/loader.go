// Package config loads runtime settings from the environment with a
// fail-open strategy: an invalid value never stops the process, it is
// replaced by the default and reported as a warning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConfigLoadResult is the outcome of loading one setting.
type ConfigLoadResult[T any] struct {
	Value T

	// Warnings explain why a fallback was applied.
	Warnings []string

	// FallbackApplied is true when the environment held an unusable value.
	FallbackApplied bool
}

// LoadEnvString returns the environment value of envKey, or defaultValue
// when it is unset or empty. No validation is performed.
func LoadEnvString(envKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

// LoadEnvWithFallback loads a string and validates it. A value rejected by
// validator is replaced by defaultValue.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult[string] {
	return loadEnv(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validator)
}

// LoadEnvDuration loads a time.ParseDuration value such as "30s" or "72h".
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult[time.Duration] {
	return loadEnv(envKey, defaultValue, time.ParseDuration, validator)
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult[int] {
	return loadEnv(envKey, defaultValue, strconv.Atoi, validator)
}

// LoadEnvBool loads a boolean in any form strconv.ParseBool accepts.
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult[bool] {
	return loadEnv(envKey, defaultValue, strconv.ParseBool, nil)
}

func loadEnv[T any](envKey string, defaultValue T, parse func(string) (T, error), validator func(T) error) ConfigLoadResult[T] {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult[T]{Value: defaultValue}
	}

	fallback := func(err error) ConfigLoadResult[T] {
		return ConfigLoadResult[T]{
			Value:           defaultValue,
			Warnings:        []string{fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, defaultValue)},
			FallbackApplied: true,
		}
	}

	value, err := parse(raw)
	if err != nil {
		return fallback(err)
	}
	if validator != nil {
		if err := validator(value); err != nil {
			return fallback(err)
		}
	}
	return ConfigLoadResult[T]{Value: value}
}
