// Package secrets provides utilities for detecting and masking sensitive values.
package secrets

import "strings"

// EnvMasker redacts occurrences of secret-looking environment variable
// values from free-form text. It exists for output this repo does not
// control the shape of — a provider CLI's stderr, a subprocess's
// stack trace — where a credential handed to the subprocess via its
// environment can otherwise leak through verbatim. This is distinct
// from IsSensitiveInputKey/MaskSensitiveInputs (pkg/secrets/sensitivity.go),
// which mask pipeline run-inputs by key name, not process environment
// values by content.
type EnvMasker struct {
	// patterns are suffixes that indicate a secret (e.g., _TOKEN, _SECRET)
	patterns []string

	// values holds the actual secret values to scrub, keyed by value so
	// Mask can iterate without duplicates.
	values map[string]bool
}

// NewEnvMasker builds an EnvMasker with the default suffix patterns.
func NewEnvMasker() *EnvMasker {
	return &EnvMasker{
		patterns: []string{
			"_TOKEN",
			"_SECRET",
			"_KEY",
			"_PASSWORD",
			"_PASS",
			"_PWD",
		},
		values: make(map[string]bool),
	}
}

// AddSecretsFromEnv scans env (typically os.Environ(), parsed into a
// map) and registers the value of every key matching a secret suffix
// pattern, so Mask can later redact it from captured subprocess output.
func (m *EnvMasker) AddSecretsFromEnv(env map[string]string) {
	for key, value := range env {
		if value != "" && m.isSecretKey(key) {
			m.values[value] = true
		}
	}
}

func (m *EnvMasker) isSecretKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range m.patterns {
		if strings.HasSuffix(upperKey, pattern) {
			return true
		}
	}
	return false
}

// Mask replaces every registered secret value appearing in s with "***".
func (m *EnvMasker) Mask(s string) string {
	result := s
	for secret := range m.values {
		if secret != "" && strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, "***")
		}
	}
	return result
}
