// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quality

import (
	"strings"
	"testing"

	"github.com/morganforge/cadence/internal/model"
)

func TestScore_BasisIsHeuristic(t *testing.T) {
	s := Score("how do goroutines work", "Goroutines are lightweight threads managed by the runtime.")
	if s.Basis != model.BasisHeuristic {
		t.Errorf("basis = %q, want heuristic", s.Basis)
	}
}

func TestScore_Clamped(t *testing.T) {
	long := strings.Repeat("goroutines channels scheduler runtime concurrency ", 100)
	s := Score("explain goroutines channels scheduler runtime concurrency", long)
	for name, v := range map[string]float64{
		"accuracy":     s.Accuracy,
		"helpfulness":  s.Helpfulness,
		"completeness": s.Completeness,
	} {
		if v < 0 || v > 10 {
			t.Errorf("%s = %f, out of [0,10]", name, v)
		}
	}
}

func TestScore_OverlapRaisesAccuracy(t *testing.T) {
	question := "how does the garbage collector handle large heaps"
	onTopic := Score(question, "The garbage collector handles large heaps by scanning concurrently.")
	offTopic := Score(question, "Bananas ripen faster inside paper bags.")
	if onTopic.Accuracy <= offTopic.Accuracy {
		t.Errorf("on-topic accuracy %f should exceed off-topic %f", onTopic.Accuracy, offTopic.Accuracy)
	}
}

func TestScore_HedgingLowersAccuracy(t *testing.T) {
	question := "what port does the server listen on"
	direct := Score(question, "The server listens on port 8080.")
	hedged := Score(question, "Maybe the server listens on port 8080, but I think it possibly depends, not sure.")
	if hedged.Accuracy >= direct.Accuracy {
		t.Errorf("hedged accuracy %f should be below direct %f", hedged.Accuracy, direct.Accuracy)
	}
}

func TestScore_RefusalLowersHelpfulness(t *testing.T) {
	question := "summarize this file"
	answer := Score(question, "Here is a summary of the file contents covering every section.")
	refusal := Score(question, "I cannot summarize that file for you.")
	if refusal.Helpfulness >= answer.Helpfulness {
		t.Errorf("refusal helpfulness %f should be below answer %f", refusal.Helpfulness, answer.Helpfulness)
	}
}

func TestScore_LongerAnswersMoreComplete(t *testing.T) {
	question := "describe the deployment pipeline"
	short := Score(question, "It deploys.")
	long := Score(question, strings.Repeat("The deployment pipeline builds, tests, packages, and ships each service. ", 10))
	if long.Completeness <= short.Completeness {
		t.Errorf("long completeness %f should exceed short %f", long.Completeness, short.Completeness)
	}
}

func TestScore_EmptyTurn(t *testing.T) {
	s := Score("anything", "")
	if s.Completeness != 0 {
		t.Errorf("completeness = %f for empty turn, want 0", s.Completeness)
	}
}

func TestKeywordOverlap_NoUserKeywordsNeutral(t *testing.T) {
	if got := keywordOverlap("the a an of", "whatever text"); got != 0.5 {
		t.Errorf("overlap = %f, want neutral 0.5", got)
	}
}

func TestKeywordSet_FiltersStopWordsAndShortTokens(t *testing.T) {
	set := keywordSet("how do i tune the scheduler")
	if set["how"] || set["the"] || set["i"] {
		t.Errorf("stop words leaked into keyword set: %v", set)
	}
	if !set["tune"] || !set["scheduler"] {
		t.Errorf("content words missing from keyword set: %v", set)
	}
}
