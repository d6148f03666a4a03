// Package config reads the service's settings from the environment. Every
// knob has a default good enough for local development; deployments override
// through env vars only, there is no config file.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetString returns the env value for key, or fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt returns the env value for key parsed as an integer, or fallback
// when unset or unparsable.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetDuration returns the env value for key parsed as a time.Duration
// ("15s", "1m"), or fallback when unset or unparsable.
func GetDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}
