// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// =============================================================================
// SCORE BASIS
// =============================================================================

// ScoreBasis records how a quality score was produced.
type ScoreBasis string

const (
	// BasisHeuristic marks a score computed locally from lexical signals.
	BasisHeuristic ScoreBasis = "heuristic"

	// BasisGraded marks a score produced by a model-graded evaluation.
	BasisGraded ScoreBasis = "graded"
)

// =============================================================================
// QUALITY SCORE
// =============================================================================

// QualityScore holds the current quality estimate for one assistant turn.
// A score is mutated at most once: the basis transitions heuristic -> graded
// and never back.
type QualityScore struct {
	Accuracy     float64    `json:"accuracy"`
	Helpfulness  float64    `json:"helpfulness"`
	Completeness float64    `json:"completeness"`
	Basis        ScoreBasis `json:"basis"`

	// Reasoning is the grader's free-text justification per sub-score.
	// Empty for heuristic scores.
	Reasoning map[string]string `json:"reasoning,omitempty"`
}

// Average returns the mean of the three sub-scores.
func (s *QualityScore) Average() float64 {
	return (s.Accuracy + s.Helpfulness + s.Completeness) / 3
}

// Clamp bounds every sub-score to the [0, 10] scale.
func (s *QualityScore) Clamp() {
	s.Accuracy = clampScore(s.Accuracy)
	s.Helpfulness = clampScore(s.Helpfulness)
	s.Completeness = clampScore(s.Completeness)
}

// String returns a compact one-line rendering for logs.
func (s *QualityScore) String() string {
	return fmt.Sprintf("acc=%.1f help=%.1f comp=%.1f (%s)",
		s.Accuracy, s.Helpfulness, s.Completeness, s.Basis)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// =============================================================================
// QUALITY TREND
// =============================================================================

// TrendDirection classifies how conversation quality is moving.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// QualityTrend is the derived aggregate over recent score snapshots.
// ChangeCount only ever increases.
type QualityTrend struct {
	ChangeCount int            `json:"change_count"`
	Trend       TrendDirection `json:"trend"`
}
