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

package cliprompt

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fyreflow/core/internal/model"
)

// validate checks value against req's required/type constraints. It
// never inspects secret values beyond emptiness, so validation errors
// for InputSecret fields never echo back what was typed.
func validate(req model.RunInputRequest, value string) error {
	if req.Required && strings.TrimSpace(value) == "" {
		return fmt.Errorf("value is required")
	}
	if value == "" {
		return nil
	}
	if req.Type == model.InputURL {
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("must be a full URL, e.g. https://example.com")
		}
	}
	return nil
}
