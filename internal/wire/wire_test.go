// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"io"
	"strings"
	"testing"
)

// drain collects every token until the decoder is exhausted, returning the
// concatenated text and the number of done events observed.
func drain(t *testing.T, d Decoder) (string, int) {
	t.Helper()

	var text strings.Builder
	doneCount := 0
	for {
		tok, err := d.Next()
		if err == io.EOF {
			return text.String(), doneCount
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		text.WriteString(tok.Delta)
		if tok.Done {
			doneCount++
		}
	}
}

func TestNDJSONDecoder_Basic(t *testing.T) {
	input := `{"response":"Hel"}` + "\n" +
		`{"response":"lo","done":false}` + "\n" +
		`{"done":true}` + "\n"

	text, done := drain(t, NewNDJSONDecoder(strings.NewReader(input)))

	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestNDJSONDecoder_MalformedLineSkipped(t *testing.T) {
	input := `{"response":"a"}` + "\n" +
		`{not valid json` + "\n" +
		`{"response":"b"}` + "\n" +
		`{"done":true}` + "\n"

	text, done := drain(t, NewNDJSONDecoder(strings.NewReader(input)))

	if text != "ab" {
		t.Errorf("text = %q, want %q (malformed line must not drop others)", text, "ab")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestNDJSONDecoder_FinalFrameUsage(t *testing.T) {
	input := `{"response":"hi"}` + "\n" +
		`{"done":true,"prompt_eval_count":12,"eval_count":7}` + "\n"

	d := NewNDJSONDecoder(strings.NewReader(input))
	drain(t, d)

	usage, ok := d.Usage()
	if !ok {
		t.Fatal("expected usage from final frame")
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want input=12 output=7", usage)
	}
}

func TestNDJSONDecoder_UnterminatedLastLine(t *testing.T) {
	// No trailing newline on the final frame.
	input := `{"response":"x"}` + "\n" + `{"done":true}`

	text, done := drain(t, NewNDJSONDecoder(strings.NewReader(input)))

	if text != "x" {
		t.Errorf("text = %q, want %q", text, "x")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestSSEDecoder_ChatCompletionFamily(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	text, done := drain(t, NewSSEDecoder(strings.NewReader(input)))

	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestSSEDecoder_BlockDeltaFamily(t *testing.T) {
	input := "data: {\"type\":\"message_start\"}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Hel\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"lo\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	text, done := drain(t, NewSSEDecoder(strings.NewReader(input)))

	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestSSEDecoder_MalformedPayloadSkipped(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
		"data: {broken\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n" +
		"data: [DONE]\n\n"

	text, _ := drain(t, NewSSEDecoder(strings.NewReader(input)))

	if text != "ab" {
		t.Errorf("text = %q, want %q (malformed payload must not drop others)", text, "ab")
	}
}

func TestSSEDecoder_FinishReasonTerminates(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"\"},\"finish_reason\":\"stop\"}]}\n\n"

	text, done := drain(t, NewSSEDecoder(strings.NewReader(input)))

	if text != "hi" {
		t.Errorf("text = %q, want %q", text, "hi")
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestSSEDecoder_UsageCapture(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantIn     int
		wantOut    int
	}{
		{
			name: "openai naming",
			input: "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":4}}\n\n" +
				"data: [DONE]\n\n",
			wantIn:  9,
			wantOut: 4,
		},
		{
			name: "block delta naming",
			input: "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"x\"},\"usage\":{\"input_tokens\":3,\"output_tokens\":8}}\n\n" +
				"data: {\"type\":\"message_stop\"}\n\n",
			wantIn:  3,
			wantOut: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSSEDecoder(strings.NewReader(tt.input))
			drain(t, d)

			usage, ok := d.Usage()
			if !ok {
				t.Fatal("expected usage to be captured")
			}
			if usage.InputTokens != tt.wantIn || usage.OutputTokens != tt.wantOut {
				t.Errorf("usage = %+v, want input=%d output=%d", usage, tt.wantIn, tt.wantOut)
			}
		})
	}
}
