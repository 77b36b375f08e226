package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/copperline/internal/provider"
	"go.uber.org/zap"
)

const (
	summaryMaxTokens   = 500
	summaryTemperature = 0.3

	summarySystemPrompt = "You are a helpful assistant that creates concise, factual summaries of conversations. Focus on key information that would be useful for future context."
)

// Summarizer collapses a batch of turns into prose. It routes through the
// same fallback orchestration as user-facing chat, with a conservative
// token budget and low temperature favoring determinism.
type Summarizer struct {
	orch    *provider.Orchestrator
	catalog *provider.Catalog
	logger  *zap.Logger
}

// NewSummarizer creates a summarizer over the given orchestration path.
func NewSummarizer(orch *provider.Orchestrator, catalog *provider.Catalog, logger *zap.Logger) *Summarizer {
	return &Summarizer{orch: orch, catalog: catalog, logger: logger}
}

// Summarize builds a deterministic prompt from the turns in chronological
// order and drains the resulting stream into a single string. A drained-
// but-empty stream counts as a qualifying failure for the producing
// provider.
func (s *Summarizer) Summarize(ctx context.Context, turns []Turn, modelName string) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	messages := []provider.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: BuildSummaryPrompt(turns)},
	}

	res := s.orch.Run(ctx, modelName, s.catalog.RecommendedFallbacks(modelName),
		messages, summaryTemperature, summaryMaxTokens)
	if !res.OK() {
		return "", res.Err
	}

	var b strings.Builder
	for chunk := range res.Stream {
		b.WriteString(chunk.Content)
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		s.catalog.RecordFailure(res.ProviderID)
		return "", provider.NewStreamError(provider.KindEmpty,
			"empty response from %s/%s during summarization", res.ProviderID, res.Model)
	}

	s.catalog.RecordSuccess(res.ProviderID)
	s.logger.Debug("summarized turns",
		zap.Int("turns", len(turns)),
		zap.String("provider", res.ProviderID),
		zap.String("model", res.Model))
	return summary, nil
}

// BuildSummaryPrompt renders turns with role labels in chronological order.
// The prompt is deterministic for a given turn sequence.
func BuildSummaryPrompt(turns []Turn) string {
	var b strings.Builder
	b.WriteString("Please provide a concise summary of the following conversation. ")
	b.WriteString("Focus on the key points, decisions made, and important context that should be remembered for future interactions. ")
	b.WriteString("Keep the summary factual and objective.\n\nConversation to summarize:\n")
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := "Assistant"
		if t.Sender == SenderUser {
			label = "User"
		}
		fmt.Fprintf(&b, "%s: %s", label, t.Text)
	}
	b.WriteString("\n\nSummary:")
	return b.String()
}
