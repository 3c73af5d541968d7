// Package tfutils
package tfutils

import (
	"errors"
	"time"
)

// ParseGranularity parses a candle granularity string (e.g., "5m", "1h") to time.Duration
func ParseGranularity(granularity string) (time.Duration, error) {
	d := GetGranularityDuration(granularity)
	if d == 0 {
		return 0, errors.New("unsupported granularity")
	}
	return d, nil
}

// GetGranularityDuration returns the duration for a given granularity
func GetGranularityDuration(granularity string) time.Duration {
	switch granularity {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// GetSupportedGranularities returns all supported granularities
func GetSupportedGranularities() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidGranularity checks if a granularity is supported
func IsValidGranularity(granularity string) bool {
	return GetGranularityDuration(granularity) > 0
}
