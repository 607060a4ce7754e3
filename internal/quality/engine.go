// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quality

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/cadence/internal/config"
	"github.com/morganforge/cadence/internal/jsonrepair"
	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/provider"
	"github.com/morganforge/cadence/internal/tasks"
	"github.com/morganforge/cadence/internal/util"
)

// =============================================================================
// TURN STATES
// =============================================================================

// State is the lifecycle position of one evaluated turn.
type State string

const (
	StatePending          State = "Pending"
	StateHeuristicScored  State = "HeuristicScored"
	StateGradingScheduled State = "GradingScheduled"
	StateGradingInFlight  State = "GradingInFlight"
	StateGradedScored     State = "GradedScored"
	StateGradingSkipped   State = "GradingSkipped"
	StateGradingFailed    State = "GradingFailed"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Grader performs the non-streaming phase-2 request. Any provider
// satisfies it.
type Grader interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Completion, error)
}

// ContextProvider supplies recent conversation context for grading prompts.
// Nil or failing providers degrade to a turn-only prompt.
type ContextProvider interface {
	GetContext(maxMessages int) (string, error)
}

// UsageRecorder observes grading-call token consumption. The ledger
// satisfies it.
type UsageRecorder interface {
	Record(usage model.Usage, id model.ModelID)
	RecordText(promptText, completionText string, id model.ModelID) model.Usage
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluation is the scoring state of one assistant turn. The score is
// mutated at most once, heuristic to graded.
type Evaluation struct {
	mu    sync.Mutex
	turn  *model.Turn
	score model.QualityScore
	state State
}

// Turn returns the evaluated turn.
func (e *Evaluation) Turn() *model.Turn {
	return e.turn
}

// Score returns the current score.
func (e *Evaluation) Score() model.QualityScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

// State returns the current lifecycle state.
func (e *Evaluation) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Evaluation) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// =============================================================================
// ENGINE
// =============================================================================

// Options tune one Evaluate call.
type Options struct {
	// GradeModel is the model used for the phase-2 call.
	GradeModel model.ModelID

	// SkipGrading keeps the turn heuristic-only. Set on a model's first
	// invocation of the session, where load latency makes grading cost
	// unacceptable.
	SkipGrading bool
}

// Engine is the two-phase quality engine. One engine serves one session.
type Engine struct {
	cfg      *config.Live
	grader   Grader
	contexts ContextProvider
	recorder UsageRecorder
	sched    *tasks.Scheduler

	mu sync.Mutex
	// lastGraded is when the last phase-2 call completed, successful or
	// not; the debounce window is measured from here.
	lastGraded time.Time
	// pending tracks the most recently scheduled job so a superseded
	// evaluation can be settled when a newer turn cancels it.
	pending pendingJob
	// recentAverages holds the last two applied graded-score averages for
	// trend analysis.
	recentAverages []float64
	trend          model.QualityTrend
}

// NewEngine creates an engine. Tunables are read through cfg on every use,
// so config reloads take effect between jobs. contexts and recorder may be
// nil.
func NewEngine(cfg *config.Live, grader Grader, contexts ContextProvider, recorder UsageRecorder) *Engine {
	return &Engine{
		cfg:      cfg,
		grader:   grader,
		contexts: contexts,
		recorder: recorder,
		sched:    tasks.NewScheduler(),
		// Engine creation is the debounce epoch: the first grading of a
		// session waits out a full window, which keeps back-to-back turns
		// at session start from each firing a grading call.
		lastGraded: time.Now(),
		trend:      model.QualityTrend{Trend: model.TrendStable},
	}
}

// Trend returns the current quality trend.
func (g *Engine) Trend() model.QualityTrend {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trend
}

// Evaluate runs phase 1 synchronously on a finalized assistant turn and,
// unless skipped, schedules phase 2. Scheduling a newer turn cancels any
// pending (not started) grading job; an in-flight job always completes and
// applies its result.
func (g *Engine) Evaluate(userText string, turn *model.Turn, opts Options) *Evaluation {
	ev := &Evaluation{turn: turn, state: StatePending}

	ev.mu.Lock()
	ev.score = Score(userText, turn.Text)
	ev.state = StateHeuristicScored
	ev.mu.Unlock()

	if opts.SkipGrading || g.grader == nil {
		ev.setState(StateGradingSkipped)
		return ev
	}

	delay := g.debounceDelay()
	ev.setState(StateGradingScheduled)
	h := g.sched.Schedule(delay, func(ctx context.Context) {
		g.grade(ctx, userText, ev, opts.GradeModel)
	})

	g.mu.Lock()
	prev := g.pending
	g.pending = pendingJob{handle: h, ev: ev}
	g.mu.Unlock()

	// Schedule canceled any not-yet-started predecessor; settle its
	// evaluation so the state machine always terminates.
	if prev.handle != nil && prev.handle.Status() == tasks.StatusCanceled &&
		prev.ev.State() == StateGradingScheduled {
		prev.ev.setState(StateGradingSkipped)
	}
	return ev
}

// pendingJob pairs a scheduled task with the evaluation it will grade.
type pendingJob struct {
	handle *tasks.Handle
	ev     *Evaluation
}

// debounceDelay returns the remaining debounce window since the last
// phase-2 completion, zero when it has fully elapsed.
func (g *Engine) debounceDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	window := g.cfg.Load().DebounceWindow()
	elapsed := time.Since(g.lastGraded)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// =============================================================================
// PHASE 2: MODEL GRADING
// =============================================================================

// grade runs one phase-2 call and applies the result. Every path reaches a
// terminal evaluation state; failures keep the heuristic score.
func (g *Engine) grade(ctx context.Context, userText string, ev *Evaluation, gradeModel model.ModelID) {
	ev.setState(StateGradingInFlight)
	defer func() {
		g.mu.Lock()
		g.lastGraded = time.Now()
		g.mu.Unlock()
	}()

	// The scheduled delay was computed against the last completion known at
	// scheduling time. If another job was in flight then, its completion
	// moved the epoch while this job waited for the execution slot, so wait
	// out whatever window remains before issuing the call.
	if wait := g.debounceDelay(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			ev.setState(StateGradingFailed)
			return
		}
	}

	prompt := g.buildPrompt(userText, ev.turn.Text)
	completion, err := g.grader.Complete(ctx, provider.Request{
		Model:    gradeModel.Name,
		Messages: []provider.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		log.Printf("quality: grading call failed for turn %s: %v", ev.turn.ID, err)
		ev.setState(StateGradingFailed)
		return
	}

	if g.recorder != nil {
		if completion.UsageKnown {
			g.recorder.Record(completion.Usage, gradeModel)
		} else {
			g.recorder.RecordText(prompt, completion.Text, gradeModel)
		}
	}

	score, err := parseGradeResponse(completion.Text)
	if err != nil {
		// Recoverable: the heuristic score stands.
		log.Printf("quality: unparseable grading response for turn %s: %v", ev.turn.ID, err)
		ev.setState(StateGradingFailed)
		return
	}

	g.apply(ev, score)
}

// apply overwrites the heuristic score in place and recomputes the trend.
func (g *Engine) apply(ev *Evaluation, score model.QualityScore) {
	score.Basis = model.BasisGraded
	score.Clamp()

	ev.mu.Lock()
	ev.score = score
	ev.state = StateGradedScored
	ev.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	pre := rollingAverage(g.recentAverages)
	g.recentAverages = append(g.recentAverages, score.Average())
	if len(g.recentAverages) > 2 {
		g.recentAverages = g.recentAverages[len(g.recentAverages)-2:]
	}
	post := rollingAverage(g.recentAverages)

	g.trend.ChangeCount++
	band := g.cfg.Load().Quality.TrendBand
	switch {
	case len(g.recentAverages) < 2:
		g.trend.Trend = model.TrendStable
	case post-pre > band:
		g.trend.Trend = model.TrendImproving
	case pre-post > band:
		g.trend.Trend = model.TrendDeclining
	default:
		g.trend.Trend = model.TrendStable
	}
}

func rollingAverage(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// =============================================================================
// GRADING PROMPT
// =============================================================================

const gradeInstruction = `Evaluate the assistant response above. Respond with exactly one JSON object and nothing else, in this shape:
{"accuracy":{"score":0-10,"reasoning":"..."},"helpfulness":{"score":0-10,"reasoning":"..."},"completeness":{"score":0-10,"reasoning":"..."}}`

// buildPrompt assembles the grading prompt: a bounded conversation window,
// the turn under evaluation, and the strict output instruction.
func (g *Engine) buildPrompt(userText, turnText string) string {
	cfg := g.cfg.Load()
	var b strings.Builder

	if g.contexts != nil {
		window, err := g.contexts.GetContext(cfg.Quality.ContextMessages)
		if err != nil {
			log.Printf("quality: context provider failed, grading without window: %v", err)
		} else if window != "" {
			b.WriteString("Conversation so far:\n")
			b.WriteString(util.TruncateTail(window, cfg.Quality.ContextCharBudget))
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "User asked:\n%s\n\nAssistant responded:\n%s\n\n%s",
		util.TruncateRunesNoEllipsis(userText, cfg.Quality.ContextCharBudget),
		util.TruncateRunesNoEllipsis(turnText, cfg.Quality.ContextCharBudget),
		gradeInstruction)
	return b.String()
}

// =============================================================================
// GRADE RESPONSE PARSING
// =============================================================================

// parseGradeResponse extracts the three sub-scores from model output via
// the recovery parser. Both {"accuracy":{"score":8,...}} and the flat
// {"accuracy":8} shape are accepted.
func parseGradeResponse(raw string) (model.QualityScore, error) {
	obj, err := jsonrepair.Parse(raw)
	if err != nil {
		return model.QualityScore{}, err
	}

	var score model.QualityScore
	reasoning := make(map[string]string)

	for _, name := range []string{"accuracy", "helpfulness", "completeness"} {
		v, ok := obj[name]
		if !ok {
			return model.QualityScore{}, &jsonrepair.FormatError{
				Raw: raw,
				Err: fmt.Errorf("missing %q sub-score", name),
			}
		}
		val, reason, err := subScore(v)
		if err != nil {
			return model.QualityScore{}, &jsonrepair.FormatError{
				Raw: raw,
				Err: fmt.Errorf("sub-score %q: %w", name, err),
			}
		}
		switch name {
		case "accuracy":
			score.Accuracy = val
		case "helpfulness":
			score.Helpfulness = val
		case "completeness":
			score.Completeness = val
		}
		if reason != "" {
			reasoning[name] = reason
		}
	}

	if len(reasoning) > 0 {
		score.Reasoning = reasoning
	}
	return score, nil
}

// subScore handles both sub-score shapes.
func subScore(v any) (float64, string, error) {
	switch t := v.(type) {
	case float64:
		return t, "", nil
	case map[string]any:
		raw, ok := t["score"]
		if !ok {
			return 0, "", fmt.Errorf("object has no score field")
		}
		n, ok := raw.(float64)
		if !ok {
			return 0, "", fmt.Errorf("score is %T, want number", raw)
		}
		reason, _ := t["reasoning"].(string)
		return n, reason, nil
	default:
		return 0, "", fmt.Errorf("unsupported sub-score type %T", v)
	}
}
