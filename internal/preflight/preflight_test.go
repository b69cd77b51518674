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

package preflight

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/model"
)

func samplePipeline() model.Pipeline {
	return model.Pipeline{
		Name: "Sample",
		Steps: []model.Step{
			{ID: "a", Name: "Analysis", Prompt: "Review the link {{input.figma_link}} for task {{task}}"},
			{ID: "b", Name: "Build", Prompt: "Use api key {{input.api_key}}"},
		},
		Config: model.DefaultRuntimeConfig(),
	}
}

func TestPlanDerivesRequiredFieldsInFirstEncounterOrder(t *testing.T) {
	plan := Plan(samplePipeline(), nil, nil)
	require.Len(t, plan.Fields, 2)
	require.Equal(t, "figma_link", plan.Fields[0].Key)
	require.Equal(t, "api_key", plan.Fields[1].Key)
}

func TestPlanInfersURLType(t *testing.T) {
	plan := Plan(samplePipeline(), nil, nil)
	require.Equal(t, model.InputURL, plan.Fields[0].Type)
}

func TestPlanInfersSecretTypeForSensitiveKey(t *testing.T) {
	plan := Plan(samplePipeline(), nil, nil)
	require.Equal(t, model.InputSecret, plan.Fields[1].Type)
}

func TestPlanChecksFailWhenInputMissingOrMasked(t *testing.T) {
	plan := Plan(samplePipeline(), map[string]string{"api_key": "[secure]"}, nil)
	var figmaCheck, apiKeyCheck model.PreflightCheck
	for _, c := range plan.Checks {
		if c.ID == "input:figma_link" {
			figmaCheck = c
		}
		if c.ID == "input:api_key" {
			apiKeyCheck = c
		}
	}
	require.Equal(t, model.CheckFail, figmaCheck.Status)
	require.Equal(t, model.CheckFail, apiKeyCheck.Status)
}

func TestPlanChecksPassWhenInputProvided(t *testing.T) {
	plan := Plan(samplePipeline(), map[string]string{
		"figma_link": "https://figma.com/x",
		"api_key":    "[secure]",
	}, nil)
	for _, c := range plan.Checks {
		if c.ID == "input:figma_link" {
			require.Equal(t, model.CheckPass, c.Status)
		}
	}
}

func TestPlanAliasesPluralToSingularKey(t *testing.T) {
	p := model.Pipeline{
		Steps: []model.Step{{ID: "a", Prompt: "{{input.figma_links}}"}},
	}
	plan := Plan(p, nil, nil)
	require.Len(t, plan.Fields, 1)
	require.Equal(t, "figma_link", plan.Fields[0].Key)
}

func TestPlanIsDeterministic(t *testing.T) {
	p := samplePipeline()
	inputs := map[string]string{"figma_link": "x"}
	first := Plan(p, inputs, nil)
	second := Plan(p, inputs, nil)
	require.Equal(t, first, second)
}

func TestPlanScheduleCheckFailsOnInvalidCron(t *testing.T) {
	p := samplePipeline()
	p.Schedule = &model.Schedule{Enabled: true, Cron: "bad cron", Timezone: "UTC"}
	plan := Plan(p, nil, nil)
	var cronCheck model.PreflightCheck
	for _, c := range plan.Checks {
		if c.ID == "cron-valid" {
			cronCheck = c
		}
	}
	require.Equal(t, model.CheckFail, cronCheck.Status)
}

func TestPlanMCPReachabilityCheck(t *testing.T) {
	p := model.Pipeline{
		Steps: []model.Step{{ID: "a", EnabledMCPServers: []string{"figma"}}},
	}
	plan := Plan(p, nil, func(id string) bool { return id == "figma" })
	var mcpCheck model.PreflightCheck
	for _, c := range plan.Checks {
		if c.ID == "mcp-reachable" {
			mcpCheck = c
		}
	}
	require.Equal(t, model.CheckPass, mcpCheck.Status)
}
