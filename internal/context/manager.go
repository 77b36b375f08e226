package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/copperline/internal/provider"
	"github.com/nidhogg/copperline/internal/token"
	"go.uber.org/zap"
)

// minRetainedTurns is the floor on the verbatim window: a lone pending user
// turn (plus, usually, the assistant reply before it) is never summarized
// away, even when it overflows the budget.
const minRetainedTurns = 2

// SummarizeFunc collapses turns into prose. Plugged in by the caller so the
// manager does not depend on the orchestration path directly.
type SummarizeFunc func(ctx context.Context, turns []Turn, modelName string) (string, error)

// Manager is the control loop deciding, per inbound message, whether to
// summarize older history, how many trailing turns fit the budget, and how
// to merge a new partial summary into the existing one.
type Manager struct {
	model     string
	limits    provider.ModelDescriptor
	counter   *token.Counter
	summarize SummarizeFunc
	logger    *zap.Logger
}

// NewManager creates a context manager for the given model. An unknown
// model name falls back to the default descriptor.
func NewManager(modelName string, counter *token.Counter, summarize SummarizeFunc, logger *zap.Logger) *Manager {
	return &Manager{
		model:     modelName,
		limits:    provider.LimitsFor(modelName),
		counter:   counter,
		summarize: summarize,
		logger:    logger,
	}
}

// Manage evaluates the token and turn-count thresholds, summarizes the
// turns that fall out of the window when either trips, and returns the
// bounded message set plus bookkeeping. The token threshold takes priority
// when both trip. Summarization failures degrade to a templated summary;
// they never block the turn.
func (m *Manager) Manage(ctx context.Context, turns []Turn, existingSummary string) Decision {
	currentTokens := m.TurnTokens(turns)
	tokenTrip := currentTokens > m.limits.TokenThreshold
	countTrip := len(turns) > m.limits.SummarizationThreshold

	reason := ReasonNone
	wasSummarized := false
	finalSummary := existingSummary
	retained := turns

	if tokenTrip || countTrip {
		var keep int
		if tokenTrip {
			// Over token budget: keep whatever the budget walk fits.
			reason = ReasonTokenLimit
			keep = m.turnsToKeep(turns, m.limits.AvailableTokens())
		} else {
			// Long but cheap conversation: every turn fits the budget, so
			// the walk would discard nothing. Compress down to the minimum
			// retained pair instead.
			reason = ReasonTurnCount
			keep = minRetainedTurns
			if len(turns) < keep {
				keep = len(turns)
			}
		}

		toSummarize := turns[:len(turns)-keep]
		retained = turns[len(turns)-keep:]
		if len(toSummarize) > 0 {
			summary, err := m.summarize(ctx, toSummarize, m.model)
			if err != nil || strings.TrimSpace(summary) == "" {
				m.logger.Warn("summarization failed, substituting fallback summary",
					zap.String("model", m.model),
					zap.Int("turns", len(toSummarize)),
					zap.Error(err))
				summary = FallbackSummary(len(toSummarize))
			}
			finalSummary = MergeSummaries(existingSummary, summary)
			wasSummarized = true
		}
	}

	// The final window is recomputed with the same budget walk over the
	// retained turns, so the returned set always fits and never overlaps
	// what the summary now covers.
	window := m.Window(retained)
	return Decision{
		Messages:      window,
		Summary:       finalSummary,
		WasSummarized: wasSummarized,
		Reason:        reason,
		TokenCount:    m.TurnTokens(window),
	}
}

// Window returns the trailing turns that fit within the model's available
// token budget, keeping at least min(2, len) turns.
func (m *Manager) Window(turns []Turn) []Turn {
	keep := m.turnsToKeep(turns, m.limits.AvailableTokens())
	return turns[len(turns)-keep:]
}

// TurnTokens estimates the framed token load of the given turns.
func (m *Manager) TurnTokens(turns []Turn) int {
	return m.counter.CountAll(toRoleTexts(turns))
}

// turnsToKeep walks from the most recent turn backward, accumulating
// estimated tokens, and stops once the next addition would exceed the
// budget. The floor guarantees min(2, total) turns survive even when they
// overflow.
func (m *Manager) turnsToKeep(turns []Turn, availableTokens int) int {
	keep := 0
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := m.counter.CountMessage(turns[i].Text, turns[i].Role())
		if total+cost > availableTokens {
			break
		}
		total += cost
		keep++
	}
	floor := minRetainedTurns
	if len(turns) < floor {
		floor = len(turns)
	}
	if keep < floor {
		keep = floor
	}
	return keep
}

// MergeSummaries concatenates a newly produced summary onto the prior one,
// separated by a blank line. The summary only ever grows; earlier content
// stays discoverable until it is re-summarized together with newer turns.
func MergeSummaries(prior, next string) string {
	if prior == "" {
		return next
	}
	if next == "" {
		return prior
	}
	return prior + "\n\n" + next
}

// FallbackSummary is the fixed-format substitute used when summarization
// fails.
func FallbackSummary(turnCount int) string {
	return fmt.Sprintf("Previous conversation with %d messages. Key topics discussed.", turnCount)
}

// DebugInfo is a diagnostic snapshot of the manager's view of a
// conversation.
type DebugInfo struct {
	Model                  string `json:"model"`
	TurnCount              int    `json:"turn_count"`
	TokenCount             int    `json:"token_count"`
	SummaryTokens          int    `json:"summary_tokens"`
	TokenThreshold         int    `json:"token_threshold"`
	SummarizationThreshold int    `json:"summarization_threshold"`
	TokenCeiling           int    `json:"token_ceiling"`
	AvailableTokens        int    `json:"available_tokens"`
	TurnsToKeep            int    `json:"turns_to_keep"`
	Reason                 Reason `json:"reason"`
}

// Debug reports thresholds and the window the manager would keep, without
// mutating anything.
func (m *Manager) Debug(turns []Turn, summary string) DebugInfo {
	currentTokens := m.TurnTokens(turns)
	reason := ReasonNone
	if currentTokens > m.limits.TokenThreshold {
		reason = ReasonTokenLimit
	} else if len(turns) > m.limits.SummarizationThreshold {
		reason = ReasonTurnCount
	}
	return DebugInfo{
		Model:                  m.model,
		TurnCount:              len(turns),
		TokenCount:             currentTokens,
		SummaryTokens:          m.counter.Count(summary),
		TokenThreshold:         m.limits.TokenThreshold,
		SummarizationThreshold: m.limits.SummarizationThreshold,
		TokenCeiling:           m.limits.TokenCeiling,
		AvailableTokens:        m.limits.AvailableTokens(),
		TurnsToKeep:            m.turnsToKeep(turns, m.limits.AvailableTokens()),
		Reason:                 reason,
	}
}
