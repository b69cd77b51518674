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

// Package cliprompt collects values for a run's pending input requests
// (model.RunInputRequest) from an interactive terminal, for both the
// initial smart-run-plan form and mid-run requests the runtime input
// broker (C7) surfaces on a paused run.
package cliprompt

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/fyreflow/core/internal/model"
)

// MaxRetries bounds how many times a single field is asked for in
// total, the first prompt included, before giving up.
const MaxRetries = 3

// Collect prompts for every field in reqs in order and returns the
// collected values keyed by field.Key. Fields with a DefaultValue are
// offered as the prompt default rather than forced.
func Collect(ctx context.Context, reqs []model.RunInputRequest) (map[string]string, error) {
	values := make(map[string]string, len(reqs))
	for i, req := range reqs {
		value, err := collectOne(ctx, req, i+1, len(reqs))
		if err != nil {
			return nil, fmt.Errorf("collecting input %q: %w", req.Key, err)
		}
		values[req.Key] = value
	}
	return values, nil
}

func collectOne(ctx context.Context, req model.RunInputRequest, position, total int) (string, error) {
	message := fmt.Sprintf("[%d/%d] %s", position, total, promptLabel(req))

	var attempts int
	var lastErr error
	for attempts < MaxRetries {
		attempts++

		value, err := ask(req, message)
		if err != nil {
			return "", err
		}

		if err := validate(req, value); err != nil {
			lastErr = err
			fmt.Printf("invalid value for %s: %s\n", req.Key, err)
			continue
		}
		return value, nil
	}
	return "", fmt.Errorf("%s after %d attempts: %w", req.Key, MaxRetries, lastErr)
}

func promptLabel(req model.RunInputRequest) string {
	label := req.Label
	if label == "" {
		label = req.Key
	}
	if req.Description != "" {
		label = label + " (" + req.Description + ")"
	}
	return label
}

func ask(req model.RunInputRequest, message string) (string, error) {
	var result string

	switch req.Type {
	case model.InputSecret:
		prompt := &survey.Password{Message: message}
		err := survey.AskOne(prompt, &result)
		return result, err
	case model.InputMultiline:
		prompt := &survey.Multiline{Message: message, Default: req.DefaultValue}
		err := survey.AskOne(prompt, &result)
		return result, err
	default: // InputText, InputURL
		prompt := &survey.Input{Message: message, Default: req.DefaultValue}
		if req.Placeholder != "" {
			prompt.Help = "e.g. " + req.Placeholder
		}
		err := survey.AskOne(prompt, &result)
		return result, err
	}
}
