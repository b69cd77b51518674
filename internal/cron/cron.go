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

// Package cron implements standard 5-field cron parsing and next-fire
// computation. No third-party cron library is exercised anywhere in the
// dependency set this repository draws from, so this hand-rolled parser
// is the idiomatic choice (see DESIGN.md).
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed 5-field cron expression: minute, hour, day-of-month,
// month, day-of-week, each a sorted set of accepted values.
type Expr struct {
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int

	raw string
}

var aliases = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// Parse compiles a 5-field cron expression (or one of the standard "@"
// aliases) into an Expr.
func Parse(expr string) (*Expr, error) {
	trimmed := strings.TrimSpace(expr)
	if alias, ok := aliases[trimmed]; ok {
		trimmed = alias
	}

	fields := strings.Fields(trimmed)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron: hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron: month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-week field: %w", err)
	}

	return &Expr{minute: minute, hour: hour, dayOfMonth: dom, month: month, dayOfWeek: dow, raw: expr}, nil
}

// parseField parses one cron field: "*", a comma list, ranges "a-b", and
// steps "*/n" or "a-b/n".
func parseField(field string, min, max int) ([]int, error) {
	var values []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parseFieldPart(part, min, max)
		if err != nil {
			return nil, err
		}
		values = append(values, vals...)
	}
	return unique(values), nil
}

func parseFieldPart(part string, min, max int) ([]int, error) {
	step := 1
	base := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid range %q", base)
		}
		lo, hi = a, b
	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", base)
		}
		lo, hi = v, v
	}

	if lo < min || hi > max || lo > hi {
		return nil, fmt.Errorf("value out of range [%d,%d] in %q", min, max, part)
	}

	var out []int
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

func unique(vals []int) []int {
	seen := make(map[int]bool, len(vals))
	out := vals[:0]
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func contains(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

// maxSearchYears bounds the forward search in Next so a pathological
// expression (e.g. Feb 30) cannot loop forever.
const maxSearchYears = 4

// Next returns the first time strictly after from at which this
// expression fires, searching forward at minute granularity.
func (e *Expr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(maxSearchYears, 0, 0)

	for t.Before(limit) {
		if !contains(e.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !contains(e.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !contains(e.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return limit
}

// dayMatches applies the conventional cron rule: if both day-of-month
// and day-of-week are restricted (not "*"), a day matching EITHER
// satisfies the field; if only one is restricted, that one governs.
func (e *Expr) dayMatches(t time.Time) bool {
	domRestricted := len(e.dayOfMonth) != 31
	dowRestricted := len(e.dayOfWeek) != 7

	domMatch := contains(e.dayOfMonth, t.Day())
	dowMatch := contains(e.dayOfWeek, int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

// String returns the original expression text this Expr was parsed
// from.
func (e *Expr) String() string { return e.raw }

// ValidateTimezone confirms name is a loadable IANA timezone.
func ValidateTimezone(name string) error {
	_, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return nil
}
