// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log"

	"github.com/morganforge/cadence/internal/model"
)

// =============================================================================
// NDJSON FRAME
// =============================================================================

// ndjsonFrame is one line of the local provider's streaming response.
// The final frame (done=true) carries evaluation statistics.
type ndjsonFrame struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// =============================================================================
// NDJSON DECODER
// =============================================================================

// NDJSONDecoder reads newline-delimited JSON completion frames.
type NDJSONDecoder struct {
	reader    *bufio.Reader
	usage     model.Usage
	usageSeen bool
	done      bool
}

// NewNDJSONDecoder creates a decoder over a streaming response body.
func NewNDJSONDecoder(r io.Reader) *NDJSONDecoder {
	return &NDJSONDecoder{reader: bufio.NewReader(r)}
}

// Next returns the next token event. Malformed lines are logged and
// skipped rather than aborting the stream.
func (d *NDJSONDecoder) Next() (Token, error) {
	if d.done {
		return Token{}, io.EOF
	}

	for {
		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				d.done = true
				return Token{}, io.EOF
			}
			if err != io.EOF {
				return Token{}, err
			}
			// Fall through and try to parse the final unterminated line.
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				d.done = true
				return Token{}, io.EOF
			}
			continue
		}

		var frame ndjsonFrame
		if uerr := json.Unmarshal(line, &frame); uerr != nil {
			log.Printf("wire: skipping malformed ndjson line (%d bytes): %v", len(line), uerr)
			if err == io.EOF {
				d.done = true
				return Token{}, io.EOF
			}
			continue
		}

		if frame.Done {
			d.done = true
			if frame.PromptEvalCount > 0 || frame.EvalCount > 0 {
				d.usage = model.Usage{
					InputTokens:  frame.PromptEvalCount,
					OutputTokens: frame.EvalCount,
				}
				d.usageSeen = true
			}
			return Token{Delta: frame.Response, Done: true}, nil
		}

		return Token{Delta: frame.Response}, nil
	}
}

// Usage returns the statistics reported on the final frame, if any.
func (d *NDJSONDecoder) Usage() (model.Usage, bool) {
	return d.usage, d.usageSeen
}
