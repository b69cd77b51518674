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

// Package mcp dials the MCP servers a pipeline's steps declare and
// reports whether each one answers the protocol handshake, backing the
// preflight planner's (C6) "mcp-reachable" check. It never proxies a
// step's actual tool calls — that remains the provider executor's
// concern — it only answers "is this server up".
package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerSpec describes how to launch one configured MCP server.
type ServerSpec struct {
	ID      string
	Command string
	Args    []string
	Env     []string
}

// Registry holds the MCP servers a deployment has configured, keyed by
// the id steps reference in Step.EnabledMCPServers.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerSpec
	timeout time.Duration
	dial    func(ctx context.Context, spec ServerSpec) error
}

// NewRegistry builds an empty Registry. Timeout bounds each
// Reachable probe; it defaults to 5s.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Registry{
		servers: make(map[string]ServerSpec),
		timeout: timeout,
	}
	r.dial = r.defaultDial
	return r
}

// Register adds or replaces a server spec.
func (r *Registry) Register(spec ServerSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[spec.ID] = spec
}

// Reachable reports whether the named server both exists in the
// registry and answers an initialize+ping handshake within the
// configured timeout. An unregistered server id is never reachable.
func (r *Registry) Reachable(serverID string) bool {
	r.mu.RLock()
	spec, ok := r.servers[serverID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.dial(ctx, spec) == nil
}

func (r *Registry) defaultDial(ctx context.Context, spec ServerSpec) error {
	c, err := client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return err
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "fyreflowd",
				Version: "0.1.0",
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return err
	}
	return c.Ping(ctx)
}
