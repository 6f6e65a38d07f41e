package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvOrDefault returns the trimmed value of key, or fallback when unset or blank.
func EnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ParseList splits a comma-separated value, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(key, fallback string) (time.Duration, error) {
	raw := EnvOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, raw)
	}
	return d, nil
}

// parseSeconds accepts a plain number of seconds ("300") or a Go duration ("5m").
func parseSeconds(key, fallback string) (time.Duration, error) {
	raw := EnvOrDefault(key, fallback)
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if !(n > 0) || n*float64(time.Second) >= math.MaxInt64 {
			return 0, fmt.Errorf("invalid %s %q: must be a positive number of seconds", key, raw)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	return parseDuration(key, fallback)
}

func parsePositiveFloat(key, fallback string) (float64, error) {
	raw := EnvOrDefault(key, fallback)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(v > 0) || math.IsInf(v, 1) {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", key, raw)
	}
	return v, nil
}

func parseInt(key, fallback string, min int) (int, error) {
	raw := EnvOrDefault(key, fallback)
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", key, raw, min)
	}
	return n, nil
}
