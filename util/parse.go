package util

import (
	"strconv"
	"strings"
	"time"
)

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
		return v
	}
	return fallback
}

// ParseDuration accepts Go duration syntax ("1500ms", "30s") or a bare number of milliseconds.
func ParseDuration(str string, fallback time.Duration) time.Duration {
	str = strings.TrimSpace(str)
	if str == "" {
		return fallback
	}
	if d, err := time.ParseDuration(str); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(str); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// ParseCSV splits a comma-separated list, dropping empty entries.
func ParseCSV(str string) []string {
	parts := strings.Split(str, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
