package provider

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

// newTestCatalog builds a catalog with two OpenAI-family providers and one
// Anthropic-family provider in priority order.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(zap.NewNop())
	c.Register(&stubProvider{id: "openai", name: "OpenAI"}, []string{"gpt-4o-mini", "gpt-4o"}, 1)
	c.Register(&stubProvider{id: "mistral", name: "Mistral"}, []string{"mistral-large-latest"}, 2)
	c.Register(&stubProvider{id: "anthropic", name: "Anthropic"}, []string{"claude-3-haiku"}, 3)
	return c
}

func TestProviderFor(t *testing.T) {
	c := newTestCatalog(t)

	id, err := c.ProviderFor("gpt-4o-mini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "openai" {
		t.Errorf("got %q, want openai", id)
	}

	_, err = c.ProviderFor("no-such-model")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("got %v, want ErrUnknownModel", err)
	}
}

func TestProviderForSkipsDisabled(t *testing.T) {
	c := newTestCatalog(t)
	c.SetEnabled("openai", false)

	if _, err := c.ProviderFor("gpt-4o-mini"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("disabled provider should not resolve, got %v", err)
	}
}

func TestFallbackChainExcludesPrimaryProvider(t *testing.T) {
	c := newTestCatalog(t)

	chain := c.FallbackChain("gpt-4o-mini")
	want := []string{"mistral-large-latest", "claude-3-haiku"}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("got %v, want %v", chain, want)
	}
}

func TestFallbackChainSkipsDisabled(t *testing.T) {
	c := newTestCatalog(t)
	c.SetEnabled("mistral", false)

	chain := c.FallbackChain("gpt-4o-mini")
	want := []string{"claude-3-haiku"}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("got %v, want %v", chain, want)
	}
}

func TestRecommendedFallbacksOnePerProvider(t *testing.T) {
	c := newTestCatalog(t)

	got := c.RecommendedFallbacks("mistral-large-latest")
	want := []string{"gpt-4o-mini", "claude-3-haiku"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBreakerDisablesAfterThreeFailures(t *testing.T) {
	c := newTestCatalog(t)

	c.RecordFailure("openai")
	c.RecordFailure("openai")
	if !c.Enabled("openai") {
		t.Fatal("provider disabled after only 2 failures")
	}
	c.RecordFailure("openai")
	if c.Enabled("openai") {
		t.Fatal("provider still enabled after 3 failures")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	c := newTestCatalog(t)

	c.RecordFailure("openai")
	c.RecordFailure("openai")
	c.RecordSuccess("openai")
	c.RecordFailure("openai")
	c.RecordFailure("openai")
	if !c.Enabled("openai") {
		t.Fatal("intervening success should have reset the failure count")
	}
}

func TestSetEnabledOverridesBreaker(t *testing.T) {
	c := newTestCatalog(t)

	for i := 0; i < 3; i++ {
		c.RecordFailure("anthropic")
	}
	if c.Enabled("anthropic") {
		t.Fatal("breaker should have disabled the provider")
	}

	c.SetEnabled("anthropic", true)
	if !c.Enabled("anthropic") {
		t.Fatal("operator enable should override the breaker")
	}

	// Re-enabling clears the failure count: three more strikes needed.
	c.RecordFailure("anthropic")
	if !c.Enabled("anthropic") {
		t.Fatal("failure count should have been reset by re-enable")
	}
}

func TestModelsInPriorityOrder(t *testing.T) {
	c := newTestCatalog(t)

	got := c.Models()
	want := []string{"gpt-4o-mini", "gpt-4o", "mistral-large-latest", "claude-3-haiku"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLimitsForUnknownModel(t *testing.T) {
	d := LimitsFor("made-up-model")
	if d.Name != DefaultModel {
		t.Errorf("got %q, want default descriptor %q", d.Name, DefaultModel)
	}
	if d.TokenThreshold != 5000 || d.SummarizationThreshold != 14 {
		t.Errorf("unexpected default thresholds: %+v", d)
	}
}

func TestAvailableTokensReservesResponseShare(t *testing.T) {
	d := LimitsFor("gpt-4o-mini")
	if got := d.AvailableTokens(); got != 6400 {
		t.Errorf("got %d, want 6400 (80%% of 8000)", got)
	}
}
