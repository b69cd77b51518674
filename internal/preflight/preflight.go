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

// Package preflight derives a SmartRunPlan (required input fields plus
// pass/fail checks) from a pipeline snapshot and the current run-inputs
// map, deterministically, before a run is started.
package preflight

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/fyreflow/core/internal/cron"
	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/pkg/secrets"
)

// aliasGroups lists canonical key synonyms treated as equivalent when
// scanning for distinct input placeholders. Kept small and explicit
// per the planner's own open question: growing this table implicitly
// would make SmartRunPlan's determinism harder to reason about.
var aliasGroups = [][]string{
	{"figma_link", "figma_links"},
	{"api_key", "api_keys"},
	{"repo_url", "repo_urls"},
	{"reviewer", "reviewers"},
}

var canonicalAlias = func() map[string]string {
	m := make(map[string]string)
	for _, group := range aliasGroups {
		canonical := group[0]
		for _, alias := range group {
			m[alias] = canonical
		}
	}
	return m
}()

var inputPlaceholder = regexp.MustCompile(`\{\{\s*input\.([A-Za-z0-9_.\-]+)\s*\}\}`)
var urlHint = regexp.MustCompile(`(?i)url|link|href`)
var multilineHint = regexp.MustCompile(`(?i)paste|body|description|notes|multi-?line`)

// canonicalizeKey trims, lowercases, normalizes punctuation to
// underscores, and maps through the alias table.
func canonicalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Map(func(r rune) rune {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			return r
		default:
			return '_'
		}
	}, key)
	if canon, ok := canonicalAlias[key]; ok {
		return canon
	}
	return key
}

type placeholderHit struct {
	key      string
	order    int
	context  string
}

// scanPlaceholders finds every {{input.<key>}} reference across texts
// (prompts, context templates, gate paths), in first-encounter order,
// alongside a window of surrounding text used for type inference.
func scanPlaceholders(texts []string) []placeholderHit {
	seen := make(map[string]bool)
	var hits []placeholderHit
	order := 0
	for _, text := range texts {
		locs := inputPlaceholder.FindAllStringSubmatchIndex(text, -1)
		for _, loc := range locs {
			raw := text[loc[2]:loc[3]]
			key := canonicalizeKey(raw)
			if seen[key] {
				continue
			}
			seen[key] = true
			start := loc[0] - 40
			if start < 0 {
				start = 0
			}
			end := loc[1] + 40
			if end > len(text) {
				end = len(text)
			}
			hits = append(hits, placeholderHit{key: key, order: order, context: text[start:end]})
			order++
		}
	}
	return hits
}

func inferType(key, context string) model.InputFieldType {
	switch {
	case secrets.IsSensitiveInputKey(key):
		return model.InputSecret
	case urlHint.MatchString(context):
		return model.InputURL
	case multilineHint.MatchString(context):
		return model.InputMultiline
	default:
		return model.InputText
	}
}

// pipelineTexts collects every prompt, context template, and gate path
// a placeholder could appear in.
func pipelineTexts(p model.Pipeline) []string {
	var texts []string
	for _, s := range p.Steps {
		texts = append(texts, s.Prompt, s.ContextTemplate)
	}
	for _, g := range p.Gates {
		texts = append(texts, g.Pattern, g.JSONPath, g.ArtifactPath)
	}
	return texts
}

// Plan derives a SmartRunPlan for p given the current run-inputs map
// (secrets already merged in by the caller). Output is deterministic:
// identical pipeline + inputs always yields byte-identical fields and
// check ordering.
func Plan(p model.Pipeline, inputs map[string]string, mcpReachable func(serverID string) bool) model.SmartRunPlan {
	hits := scanPlaceholders(pipelineTexts(p))

	var fields []model.RunInputRequest
	var checks []model.PreflightCheck
	for _, h := range hits {
		fieldType := inferType(h.key, h.context)
		fields = append(fields, model.RunInputRequest{
			Key:      h.key,
			Label:    strings.Title(strings.ReplaceAll(h.key, "_", " ")),
			Type:     fieldType,
			Required: true,
		})

		value, present := inputs[h.key]
		status := model.CheckPass
		if !present || value == "" || value == secrets.SecureSentinel {
			status = model.CheckFail
		}
		checks = append(checks, model.PreflightCheck{
			ID:     "input:" + h.key,
			Title:  "Input: " + h.key,
			Status: status,
		})
	}

	checks = append(checks, pipelineLevelChecks(p, mcpReachable)...)

	return model.SmartRunPlan{Fields: fields, Checks: checks}
}

func pipelineLevelChecks(p model.Pipeline, mcpReachable func(string) bool) []model.PreflightCheck {
	var checks []model.PreflightCheck

	if p.Schedule != nil && p.Schedule.Enabled {
		status := model.CheckPass
		message := ""
		if _, err := cron.Parse(p.Schedule.Cron); err != nil {
			status = model.CheckFail
			message = err.Error()
		} else if err := cron.ValidateTimezone(p.Schedule.Timezone); err != nil {
			status = model.CheckFail
			message = err.Error()
		}
		checks = append(checks, model.PreflightCheck{ID: "cron-valid", Title: "Schedule is valid", Status: status, Message: message})
	}

	providerAuthStatus := model.CheckWarn
	if hasConfiguredProvider(p) {
		providerAuthStatus = model.CheckPass
	}
	checks = append(checks, model.PreflightCheck{ID: "provider-auth", Title: "Provider credentials configured", Status: providerAuthStatus})

	mcpIDs := mcpServerIDs(p)
	if len(mcpIDs) > 0 && mcpReachable != nil {
		sort.Strings(mcpIDs)
		allReachable := true
		for _, id := range mcpIDs {
			if !mcpReachable(id) {
				allReachable = false
				break
			}
		}
		status := model.CheckPass
		if !allReachable {
			status = model.CheckFail
		}
		checks = append(checks, model.PreflightCheck{ID: "mcp-reachable", Title: "MCP servers reachable", Status: status})
	}

	checks = append(checks, storagePathsCheck(p))

	return checks
}

func hasConfiguredProvider(p model.Pipeline) bool {
	for _, s := range p.Steps {
		if s.Provider.ProviderID != "" {
			return true
		}
	}
	return false
}

func mcpServerIDs(p model.Pipeline) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range p.Steps {
		for _, id := range s.EnabledMCPServers {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func storagePathsCheck(p model.Pipeline) model.PreflightCheck {
	needsStorage := false
	for _, s := range p.Steps {
		if s.StorageIsolated || s.StorageShared {
			needsStorage = true
			break
		}
	}
	if !needsStorage {
		return model.PreflightCheck{ID: "storage-paths-exist", Title: "Storage paths exist", Status: model.CheckPass}
	}

	root := os.Getenv("FYREFLOW_STORAGE_ROOT")
	status := model.CheckPass
	if root == "" {
		status = model.CheckWarn
	} else if _, err := os.Stat(root); err != nil {
		status = model.CheckFail
	}
	return model.PreflightCheck{ID: "storage-paths-exist", Title: "Storage paths exist", Status: status}
}
