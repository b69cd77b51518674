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
	"context"
	"fmt"
)

// Simulated always reports unauthenticated. It backs any ProviderID
// the registry doesn't recognize, and exists so a pipeline can be
// exercised end to end (preflight, gating, loop logic) before real
// credentials are ever configured.
type Simulated struct{}

func (Simulated) Execute(_ context.Context, req ExecuteRequest) (string, error) {
	return fmt.Sprintf("%sno credentials configured for provider %q]", SimulatedPrefix, req.Config.ProviderID), nil
}
