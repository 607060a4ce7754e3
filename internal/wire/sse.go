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
// SSE EVENT READER
// =============================================================================

// SSEReader parses Server-Sent Events framing: "data: <payload>" lines
// grouped by blank-line separators. Non-data fields (event:, id:, retry:,
// comments) are ignored.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates an SSE reader over a response body.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadData returns the payload of the next data event.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadData() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
	}
}

// =============================================================================
// SSE DELTA FRAMES
// =============================================================================

// sseFrame covers both hosted delta shapes in one parse:
//
//	{"choices":[{"delta":{"content":"..."},"finish_reason":""}]}
//	{"type":"content_block_delta","delta":{"text":"..."}}
//	{"type":"message_stop"}
type sseFrame struct {
	Type    string `json:"type,omitempty"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices,omitempty"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

// doneSentinel is the literal end-of-stream payload.
var doneSentinel = []byte("[DONE]")

// =============================================================================
// SSE DECODER
// =============================================================================

// SSEDecoder turns SSE delta frames into canonical token events.
type SSEDecoder struct {
	sse       *SSEReader
	usage     model.Usage
	usageSeen bool
	done      bool
}

// NewSSEDecoder creates a decoder over a streaming response body.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{sse: NewSSEReader(r)}
}

// Next returns the next token event. Malformed payloads are logged and
// skipped rather than aborting the stream.
func (d *SSEDecoder) Next() (Token, error) {
	if d.done {
		return Token{}, io.EOF
	}

	for {
		data, err := d.sse.ReadData()
		if err != nil {
			if err == io.EOF {
				d.done = true
			}
			return Token{}, err
		}

		if bytes.Equal(data, doneSentinel) {
			d.done = true
			return Token{Done: true}, nil
		}

		var frame sseFrame
		if uerr := json.Unmarshal(data, &frame); uerr != nil {
			log.Printf("wire: skipping malformed sse payload (%d bytes): %v", len(data), uerr)
			continue
		}

		d.captureUsage(&frame)

		// Block-delta family.
		switch frame.Type {
		case "message_stop":
			d.done = true
			return Token{Done: true}, nil
		case "content_block_delta":
			return Token{Delta: frame.Delta.Text}, nil
		}
		if frame.Type != "" {
			// Other typed events (message_start, ping, ...) carry no text.
			continue
		}

		// Chat-completion delta family.
		if len(frame.Choices) > 0 {
			choice := frame.Choices[0]
			if choice.FinishReason != "" {
				d.done = true
				return Token{Delta: choice.Delta.Content, Done: true}, nil
			}
			return Token{Delta: choice.Delta.Content}, nil
		}

		// Usage-only or otherwise empty frame.
	}
}

// Usage returns provider-reported token counts, if any frame carried them.
func (d *SSEDecoder) Usage() (model.Usage, bool) {
	return d.usage, d.usageSeen
}

// captureUsage records usage counts from whichever naming the provider uses.
func (d *SSEDecoder) captureUsage(frame *sseFrame) {
	if frame.Usage == nil {
		return
	}
	u := model.Usage{
		InputTokens:  frame.Usage.PromptTokens,
		OutputTokens: frame.Usage.CompletionTokens,
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		u.InputTokens = frame.Usage.InputTokens
		u.OutputTokens = frame.Usage.OutputTokens
	}
	if u.InputTokens > 0 || u.OutputTokens > 0 {
		d.usage = u
		d.usageSeen = true
	}
}
