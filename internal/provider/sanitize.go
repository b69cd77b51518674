// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fyreflow/core/pkg/secrets"
)

var (
	pathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/Users/[^/\s]+`),
		regexp.MustCompile(`/home/[^/\s]+`),
		regexp.MustCompile(`/etc/[^:\s]+`),
		regexp.MustCompile(`C:\\Users\\[^\\]+`),
	}

	usernamePattern  = regexp.MustCompile(`user(?:name)?[:\s]+[^\s]+`)
	privateIPPattern = regexp.MustCompile(`\b(?:10\.|172\.(?:1[6-9]|2[0-9]|3[01])\.|192\.168\.)[0-9.]+\b`)
	ipPattern        = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
)

// envMasker redacts this process's own secret-suffixed environment
// variable values (ANTHROPIC_API_KEY and the like) that a CLI provider
// subprocess inherits and might echo back on failure. Built once,
// lazily, from the live environment at first use.
var (
	envMaskerOnce sync.Once
	envMasker     *secrets.EnvMasker
)

func maskEnvSecrets(s string) string {
	envMaskerOnce.Do(func() {
		envMasker = secrets.NewEnvMasker()
		env := make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
		envMasker.AddSecretsFromEnv(env)
	})
	return envMasker.Mask(s)
}

// sanitizeProviderError strips filesystem paths, usernames, IP
// addresses, stack trace lines, and any inherited secret environment
// values from a CLI error message before it reaches run logs or step
// output.
func sanitizeProviderError(msg string) string {
	result := maskEnvSecrets(msg)
	for _, pattern := range pathPatterns {
		result = pattern.ReplaceAllString(result, "[PATH]")
	}
	result = usernamePattern.ReplaceAllString(result, "user: [REDACTED]")
	result = privateIPPattern.ReplaceAllString(result, "[PRIVATE_IP]")
	result = ipPattern.ReplaceAllString(result, "[IP]")

	lines := strings.Split(result, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "at ") || strings.Contains(trimmed, ".go:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
