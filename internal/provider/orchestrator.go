package provider

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Orchestrator tries a primary model and its fallbacks strictly in order:
// first stream wins and short-circuits the walk. Candidates are never tried
// concurrently, bounding cost and avoiding duplicate side effects. Failure
// kinds that indicate quota exhaustion or a degenerate response penalize
// the provider through the circuit breaker; everything else moves on
// silently.
type Orchestrator struct {
	catalog *Catalog
	client  *Client
	logger  *zap.Logger
}

// NewOrchestrator creates a fallback orchestrator.
func NewOrchestrator(catalog *Catalog, client *Client, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{catalog: catalog, client: client, logger: logger}
}

// Run walks [primaryModel] + fallbackModels. Disabled or unresolvable
// providers are skipped without a network call. On total failure the
// result is tagged KindExhausted and lists every candidate.
//
// A stream that starts successfully can still drain empty; that can only
// be detected after full consumption, so callers that require content must
// treat a drained-but-empty stream as a failure and retry the next
// candidate themselves (with an empty fallback list, to keep the retry
// bounded). For the same reason Run never calls RecordSuccess: the breaker
// counter is cleared by the caller, once actual content has been drained.
func (o *Orchestrator) Run(ctx context.Context, primaryModel string, fallbackModels []string, messages []Message, temperature float64, maxTokens int) StreamResult {
	candidates := make([]string, 0, 1+len(fallbackModels))
	candidates = append(candidates, primaryModel)
	candidates = append(candidates, fallbackModels...)

	for _, model := range candidates {
		providerID, err := o.catalog.ProviderFor(model)
		if err != nil {
			o.logger.Debug("skipping candidate with no enabled provider",
				zap.String("model", model))
			continue
		}

		res := o.client.Invoke(ctx, providerID, model, messages, temperature, maxTokens)
		if res.OK() {
			return res
		}

		switch res.Err.Kind {
		case KindEmpty, KindQuota:
			o.catalog.RecordFailure(providerID)
		}
		o.logger.Warn("candidate failed, trying next",
			zap.String("model", model),
			zap.String("provider", providerID),
			zap.String("kind", string(res.Err.Kind)))

		if ctx.Err() != nil {
			break
		}
	}

	return StreamResult{Err: NewStreamError(KindExhausted,
		"all models failed: %s", strings.Join(candidates, ", "))}
}
