package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of key, or fallback when unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// InstanceID names the running process in logs: the platform dyno, an
// explicit worker id, then the hostname.
func InstanceID() string {
	for _, key := range []string{"DYNO", "LEDGER_INSTANCE_ID"} {
		if id := Get(key, ""); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
