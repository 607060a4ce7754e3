// cadence - adaptive conversation-quality pipeline for streamed LLM chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/cadence/internal/config"
	"github.com/morganforge/cadence/internal/ledger"
	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/notify"
	"github.com/morganforge/cadence/internal/provider"
	"github.com/morganforge/cadence/internal/quality"
	"github.com/morganforge/cadence/internal/secrets"
	"github.com/morganforge/cadence/internal/session"
	"github.com/morganforge/cadence/internal/statestore"
	"github.com/morganforge/cadence/internal/stream"
	"github.com/morganforge/cadence/internal/wire"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	scoreStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	tokenStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the session-scoped pipeline.
type app struct {
	mu  sync.Mutex
	cfg *config.Live

	local  *provider.Local
	hosted *provider.Hosted
	// useCloud selects the hosted provider for chat turns.
	useCloud bool

	store    *statestore.Store
	ledger   *ledger.Ledger
	sessions *session.Manager
	streams  *stream.Normalizer
	engine   *quality.Engine
}

// active returns the chat provider in use.
func (a *app) active() provider.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.useCloud {
		return a.hosted
	}
	return a.local
}

// chatModel returns the model name for the active provider.
func (a *app) chatModel() string {
	cfg := a.cfg.Load()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.useCloud {
		return cfg.Cloud.Model
	}
	return cfg.Local.Model
}

// gradeModel returns the identity used for phase-2 grading: the configured
// override, or the model that produced the turn.
func (a *app) gradeModel() model.ModelID {
	cfg := a.cfg.Load()
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Quality.GradingModel != "" {
		if a.useCloud {
			return model.ModelID{Provider: a.hosted.ID(), Name: cfg.Quality.GradingModel}
		}
		return model.ModelID{Provider: a.local.ID(), Name: cfg.Quality.GradingModel}
	}
	if a.useCloud {
		return model.ModelID{Provider: a.hosted.ID(), Name: cfg.Cloud.Model}
	}
	return model.ModelID{Provider: a.local.ID(), Name: cfg.Local.Model}
}

// Complete dispatches grading calls to the active provider, so the engine
// follows provider switches mid-session.
func (a *app) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	return a.active().Complete(ctx, req)
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := statestore.Open(statestore.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	led, err := ledger.New(store, cfg.Ledger.EstimatorDivisor)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load token ledger: %w", err)
	}

	creds := secrets.Chain{secrets.EnvStore{}}
	if fileStore, err := secrets.NewFileStore(""); err != nil {
		log.Printf("file credential store unavailable: %v", err)
	} else {
		creds = secrets.Chain{fileStore, secrets.EnvStore{}}
	}

	live := config.NewLive(cfg)
	a := &app{
		cfg:    live,
		local:  provider.NewLocal(cfg.Local.URL),
		hosted: provider.NewHosted(cfg.Cloud.BaseURL, provider.Family(cfg.Cloud.Family), cfg.Cloud.APIKeyName, creds, cfg.Cloud.RequestsPerSecond),
		store:  store,
		ledger: led,
	}

	a.sessions = session.NewManager()
	a.streams = stream.New(live, store)
	a.engine = quality.NewEngine(live, a, a.sessions, led)

	if err := led.SetActiveConversation(a.sessions.ConversationID()); err != nil {
		log.Printf("failed to activate conversation counters: %v", err)
	}
	return a, nil
}

// =============================================================================
// CHAT TURN
// =============================================================================

// runTurn streams one assistant turn, records tokens, and kicks off quality
// evaluation.
func (a *app) runTurn(ctx context.Context, userText string) {
	userTurn := model.NewTurn(model.RoleUser, userText)
	a.sessions.Append(userTurn)

	p := a.active()
	modelName := a.chatModel()
	id := model.ModelID{Provider: p.ID(), Name: modelName}

	req := provider.Request{
		Model:    modelName,
		Messages: []provider.Message{{Role: "user", Content: userText}},
	}

	result, err := a.streams.Stream(ctx, p, req, stream.Options{
		Notifier: notify.Logger{},
		Label:    "waiting for " + modelName,
		OnDelta: func(tok wire.Token) {
			if tok.Delta != "" {
				fmt.Print(assistantStyle.Render(tok.Delta))
			}
		},
	})
	fmt.Println()

	text := ""
	if err != nil {
		var se *stream.Error
		if errors.As(err, &se) && se.Partial != "" {
			// Keep what the user already saw.
			text = se.Partial
			fmt.Println(errorStyle.Render("stream interrupted, keeping partial response"))
		} else {
			fmt.Println(errorStyle.Render(err.Error()))
			return
		}
		a.ledger.RecordText(req.PromptText(), text, id)
	} else {
		text = result.Text
		if result.UsageKnown {
			a.ledger.Record(result.Usage, id)
		} else {
			a.ledger.RecordText(req.PromptText(), text, id)
		}
		fmt.Println(tokenStyle.Render(fmt.Sprintf(
			"[%.0f tok/s, first token %s, conversation %d tokens]",
			result.Stats.TokensPerSecond,
			result.Stats.TimeToFirstToken.Round(10*time.Millisecond),
			a.ledger.ConversationTotal())))
	}

	turn := model.NewTurn(model.RoleAssistant, text)
	a.sessions.Append(turn)

	first := a.sessions.RecordInvocation(id.Key())
	ev := a.engine.Evaluate(userText, turn, quality.Options{
		GradeModel:  a.gradeModel(),
		SkipGrading: first,
	})
	score := ev.Score()
	fmt.Println(scoreStyle.Render("quality: " + score.String()))
}

// =============================================================================
// COMMANDS
// =============================================================================

func (a *app) handleCommand(line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		id := a.sessions.NewConversation()
		if err := a.ledger.SetActiveConversation(id); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}
		fmt.Println(tokenStyle.Render("new conversation " + id))

	case "/switch":
		if len(fields) < 2 {
			fmt.Println(errorStyle.Render("usage: /switch <conversation-id>"))
			return false
		}
		a.sessions.SwitchConversation(fields[1])
		if err := a.ledger.SetActiveConversation(fields[1]); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}
		fmt.Println(tokenStyle.Render(fmt.Sprintf("conversation %s (%d tokens so far)",
			fields[1], a.ledger.ConversationTotal())))

	case "/local":
		a.mu.Lock()
		a.useCloud = false
		a.mu.Unlock()
		fmt.Println(tokenStyle.Render("using local provider"))

	case "/cloud":
		a.mu.Lock()
		a.useCloud = true
		a.mu.Unlock()
		fmt.Println(tokenStyle.Render("using hosted provider"))

	case "/tokens":
		fmt.Println(tokenStyle.Render(fmt.Sprintf("conversation: %d", a.ledger.ConversationTotal())))
		for key, bucket := range a.ledger.Snapshot() {
			fmt.Println(tokenStyle.Render(fmt.Sprintf("  %-24s in=%d out=%d total=%d",
				key, bucket.Input, bucket.Output, bucket.Total)))
		}

	case "/trend":
		trend := a.engine.Trend()
		fmt.Println(scoreStyle.Render(fmt.Sprintf("trend: %s (%d graded updates)",
			trend.Trend, trend.ChangeCount)))

	case "/reset":
		var err error
		if len(fields) > 1 {
			parts := strings.SplitN(fields[1], "_", 2)
			if len(parts) != 2 {
				fmt.Println(errorStyle.Render("usage: /reset [provider_model]"))
				return false
			}
			err = a.ledger.Reset(model.ModelID{Provider: parts[0], Name: parts[1]})
		} else {
			err = a.ledger.ResetAll()
		}
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		} else {
			fmt.Println(tokenStyle.Render("counters reset"))
		}

	default:
		fmt.Println(errorStyle.Render("unknown command " + fields[0]))
	}
	return false
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	configPath := flag.String("config", config.DefaultPath(), "configuration file")
	useCloud := flag.Bool("cloud", false, "start on the hosted provider")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cadence %s (%s)\n", Version, GitCommit)
		return
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
	defer a.store.Close()
	a.useCloud = *useCloud

	// Live-reload tunables on config edits; failed reloads keep the
	// previous configuration.
	if watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		// Publish a whole replacement value; the engine and normalizer
		// load fresh snapshots per use, so no reader sees a torn write.
		a.cfg.Replace(next)
		log.Printf("configuration reloaded")
	}); err == nil {
		watcher.Watch()
		defer watcher.Close()
	} else {
		log.Printf("config watcher unavailable: %v", err)
	}

	fmt.Printf("cadence %s | conversation %s | /quit to exit\n", Version, a.sessions.ConversationID())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if a.handleCommand(line) {
				break
			}
			continue
		}
		a.runTurn(context.Background(), line)
	}
}
