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

// Package mdjson extracts fenced JSON blocks from markdown-shaped step
// output. It backs both the quality-gate evaluator's json_field_exists
// fallback and the runtime input broker's request detection, one parser
// serving both call sites.
package mdjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```\\w*[ \\t\\r]*\\n(.*?)\\n```")

// ExtractAll returns every fenced code block in text that parses as
// valid JSON, in document order. Non-JSON fenced blocks (e.g. ```go```)
// are skipped rather than erroring, matching the lenient "tolerates
// surrounding prose" grammar the protocol calls for.
func ExtractAll(text string) []json.RawMessage {
	matches := fencedBlock.FindAllStringSubmatch(text, -1)
	var out []json.RawMessage
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if !json.Valid([]byte(body)) {
			continue
		}
		out = append(out, json.RawMessage(body))
	}
	return out
}

// First returns the first fenced JSON block in text, if any.
func First(text string) (json.RawMessage, bool) {
	blocks := ExtractAll(text)
	if len(blocks) == 0 {
		return nil, false
	}
	return blocks[0], true
}

// FindSectionNear returns the first fenced JSON block that appears
// after a heading line containing heading (case-insensitive), falling
// back to the first fenced JSON block in the document if no such
// heading is found — the lenient behavior the runtime input-request
// grammar requires ("tolerates surrounding prose").
func FindSectionNear(text, heading string) (json.RawMessage, bool) {
	lowerHeading := strings.ToLower(heading)
	idx := strings.Index(strings.ToLower(text), lowerHeading)
	if idx >= 0 {
		rest := text[idx:]
		if blocks := ExtractAll(rest); len(blocks) > 0 {
			return blocks[0], true
		}
	}
	return First(text)
}
