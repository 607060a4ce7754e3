// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quality

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/morganforge/cadence/internal/model"
)

// =============================================================================
// LEXICAL SIGNAL TABLES
// =============================================================================

// hedgeWords soften claims; each occurrence costs accuracy.
var hedgeWords = []string{
	"maybe", "perhaps", "possibly", "probably", "might",
	"i think", "i believe", "not sure", "not certain", "it depends",
}

// refusalMarkers indicate a non-answer; heavily penalize helpfulness.
var refusalMarkers = []string{
	"i cannot", "i can't", "i am unable", "i'm unable",
	"as an ai", "i don't have access",
}

// stopWords are filtered before keyword-overlap analysis.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "can": true,
	"do": true, "does": true, "for": true, "from": true, "has": true,
	"have": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "me": true, "my": true, "of": true, "on": true,
	"or": true, "please": true, "so": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,
}

// =============================================================================
// PHASE 1: HEURISTIC SCORER
// =============================================================================

// Score computes the instant heuristic estimate for an assistant turn.
// Purely lexical, no external calls; always completes in well under a
// millisecond for chat-sized text.
func Score(userText, assistantText string) model.QualityScore {
	lower := strings.ToLower(norm.NFC.String(assistantText))
	words := tokenize(lower)

	overlap := keywordOverlap(userText, lower)

	s := model.QualityScore{
		Accuracy:     5.0 + 3.0*overlap - hedgePenalty(lower),
		Helpfulness:  5.0 + 2.5*overlap + structureBonus(assistantText) - refusalPenalty(lower),
		Completeness: lengthCompleteness(len(words)) + 1.5*overlap,
		Basis:        model.BasisHeuristic,
	}
	s.Clamp()
	return s
}

// keywordOverlap returns matchedKeywords / totalKeywords over the user
// turn's stop-word-filtered keyword set. No user keywords yields a neutral
// 0.5 so the overlap term neither rewards nor punishes.
func keywordOverlap(userText, assistantLower string) float64 {
	userKeywords := keywordSet(strings.ToLower(norm.NFC.String(userText)))
	if len(userKeywords) == 0 {
		return 0.5
	}

	assistantKeywords := keywordSet(assistantLower)
	matched := 0
	for kw := range userKeywords {
		if assistantKeywords[kw] {
			matched++
		}
	}
	return float64(matched) / float64(len(userKeywords))
}

// lengthCompleteness maps word count onto [0, 8.5] with diminishing
// returns, so longer answers read as more complete without rewarding
// padding without bound.
func lengthCompleteness(words int) float64 {
	if words <= 0 {
		return 0
	}
	return 8.5 * float64(words) / float64(words+60)
}

func hedgePenalty(lower string) float64 {
	var penalty float64
	for _, h := range hedgeWords {
		penalty += 0.5 * float64(strings.Count(lower, h))
	}
	if penalty > 2.0 {
		penalty = 2.0
	}
	return penalty
}

func refusalPenalty(lower string) float64 {
	for _, m := range refusalMarkers {
		if strings.Contains(lower, m) {
			return 2.5
		}
	}
	return 0
}

// structureBonus rewards answers with visible structure.
func structureBonus(text string) float64 {
	var bonus float64
	if strings.Contains(text, "```") {
		bonus += 0.5
	}
	if strings.Contains(text, "\n- ") || strings.Contains(text, "\n* ") ||
		strings.Contains(text, "\n1. ") {
		bonus += 0.5
	}
	return bonus
}

// =============================================================================
// TOKENIZATION
// =============================================================================

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func keywordSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(lower) {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		set[w] = true
	}
	return set
}
