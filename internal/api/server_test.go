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

package api_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/api"
	"github.com/fyreflow/core/internal/gate"
	"github.com/fyreflow/core/internal/provider"
	"github.com/fyreflow/core/internal/runner"
	"github.com/fyreflow/core/internal/store"
	"github.com/fyreflow/core/internal/vault"
)

// newTestServer wires a Server over fresh, temp-dir-backed dependencies,
// the same composition cmd/fyreflowd performs at startup.
func newTestServer(t *testing.T) (*api.Server, *store.Store, *runner.Runner, *vault.Vault) {
	t.Helper()

	dir := t.TempDir()

	r := runner.New(provider.NewRegistry(), gate.New(), nil, runner.Config{StorageRoot: dir})

	s, err := store.Open(dir, r, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, err := vault.Open(dir)
	require.NoError(t, err)

	srv := api.NewServer(api.Deps{
		Store:  s,
		Runner: r,
		Vault:  v,
	})
	return srv, s, r, v
}
