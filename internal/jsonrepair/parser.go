// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// FORMAT ERROR
// =============================================================================

// FormatError reports unparseable model output. Raw carries the original
// text for diagnostics; it is logged, never shown to the end user.
type FormatError struct {
	Raw string
	Err error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("unparseable structured output (%d chars): %v", len(e.Raw), e.Err)
}

// Unwrap returns the underlying decode error.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// =============================================================================
// EXTRACTION PATTERNS
// =============================================================================

var (
	// fencedBlockRe matches the first fenced code block with an optional
	// json language tag.
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

	// widestObjectRe is the last-resort extraction: the widest {...} span.
	widestObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

	// trailingCommaRe matches a comma directly before a closing brace or
	// bracket.
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

	// bareKeyRe matches an unquoted object key after { or ,.
	bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)(\s*:)`)

	// missingCommaRe matches adjacent values split across lines with no
	// separating comma: "..."<newline>"..." or }<newline>" or ]<newline>".
	missingCommaRe = regexp.MustCompile("([\"}\\]])(\\s*\n\\s*)\"")
)

// =============================================================================
// PARSE
// =============================================================================

// Parse extracts a JSON object from rawText and decodes it into a generic
// map. Extraction strategies are tried in order, stopping at the first that
// yields valid JSON:
//
//  1. the first fenced code block,
//  2. the span from the first { to its matching },
//  3. the widest {...} regex match.
//
// Each candidate is normalized before parsing and repaired if normalization
// alone is not enough. A FormatError carrying the raw text is returned when
// every strategy fails.
func Parse(rawText string) (map[string]any, error) {
	var lastErr error

	for _, candidate := range candidates(rawText) {
		obj, err := parseCandidate(candidate)
		if err == nil {
			return obj, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object found")
	}
	return nil, &FormatError{Raw: rawText, Err: lastErr}
}

// ParseInto decodes the recovered object into v through an intermediate
// re-encode, so callers get strict field mapping on repaired text.
func ParseInto(rawText string, v any) error {
	obj, err := Parse(rawText)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return &FormatError{Raw: rawText, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &FormatError{Raw: rawText, Err: err}
	}
	return nil
}

// candidates returns the extraction spans to attempt, in contract order.
func candidates(rawText string) []string {
	var out []string

	if m := fencedBlockRe.FindStringSubmatch(rawText); m != nil {
		out = append(out, m[1])
	}
	if span, ok := braceWalk(rawText); ok {
		out = append(out, span)
	}
	if m := widestObjectRe.FindString(rawText); m != "" {
		out = append(out, m)
	}
	// A truncated object may have no closing brace at all; hand the tail
	// span to the repair pass as a last resort.
	if start := strings.IndexByte(rawText, '{'); start >= 0 {
		out = append(out, rawText[start:])
	}
	return out
}

// parseCandidate parses strictly, then normalizes, then falls back to the
// repair pass.
func parseCandidate(candidate string) (map[string]any, error) {
	// Already-valid JSON must round-trip untouched: the normalization
	// regexes cannot tell a trailing comma from one inside a string
	// literal, so they only run on input the strict parser rejects.
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, nil
	}

	normalized := Normalize(candidate)
	if err := json.Unmarshal([]byte(normalized), &obj); err == nil {
		return obj, nil
	}

	repaired := Repair(normalized)
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// =============================================================================
// BRACE WALK
// =============================================================================

// braceWalk finds the span from the first { to its matching }, counting
// depth and honoring string literals and escapes.
func braceWalk(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// Normalize applies the idempotent cleanup passes, in order: strip trailing
// commas, quote bare object keys, strip control characters, normalize line
// endings.
func Normalize(text string) string {
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	text = bareKeyRe.ReplaceAllString(text, `$1"$2"$3`)
	text = stripControlChars(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

// stripControlChars removes C0 control characters except tab, newline, and
// carriage return, which line-ending normalization handles.
func stripControlChars(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, text)
}

// =============================================================================
// REPAIR
// =============================================================================

// Repair applies the best-effort structural fixes: missing commas between
// adjacent values on separate lines, and closing tokens for unbalanced
// { and [ openers.
func Repair(text string) string {
	text = missingCommaRe.ReplaceAllString(text, "$1,$2\"")
	text = balanceClosers(text)
	// Inserting closers can strand a trailing comma, e.g. `"a":1,` + `}`.
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	return text
}

// balanceClosers appends the closing tokens for any unmatched { or [,
// in reverse order of opening. String literals are honored; an unterminated
// string is closed first.
func balanceClosers(text string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if n := len(stack); n > 0 && stack[n-1] == '{' {
				stack = stack[:n-1]
			}
		case ']':
			if n := len(stack); n > 0 && stack[n-1] == '[' {
				stack = stack[:n-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(text)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}
