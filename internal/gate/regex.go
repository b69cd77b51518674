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

package gate

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// regexCache compiles and memoizes patterns keyed by "flags\x00pattern",
// mirroring the compiled-expression cache pkg/workflow/expression keeps
// for expr-lang programs.
type regexCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{cache: make(map[string]*regexp.Regexp)}
}

// flagPrefix converts the spec's i/m/s/u flag letters into Go's inline
// (?ims) group syntax. u (unicode) is a no-op: Go's regexp package is
// always UTF-8 aware.
func flagPrefix(flags string) string {
	var letters []byte
	seen := map[byte]bool{}
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			b := byte(f)
			if !seen[b] {
				seen[b] = true
				letters = append(letters, b)
			}
		case 'u':
			// always on for Go regexp
		}
	}
	if len(letters) == 0 {
		return ""
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return "(?" + string(letters) + ")"
}

func (c *regexCache) compile(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.cache[key]; ok {
		return re, nil
	}
	re, err := regexp.Compile(flagPrefix(flags) + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid gate pattern %q: %w", pattern, err)
	}
	c.cache[key] = re
	return re, nil
}

func evaluateRegexMatch(cache *regexCache, pattern, flags, normalizedOutput string, mustMatch bool) (bool, string, error) {
	re, err := cache.compile(pattern, flags)
	if err != nil {
		return false, "", err
	}
	matched := re.MatchString(normalizedOutput)
	if mustMatch == matched {
		return true, "", nil
	}
	if mustMatch {
		return false, "pattern did not match output: " + pattern, nil
	}
	return false, "pattern matched output but must not: " + pattern, nil
}
