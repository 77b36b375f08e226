package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownModel is returned when no enabled provider lists a model.
var ErrUnknownModel = errors.New("no enabled provider for model")

// failureThreshold is the consecutive-failure count at which the breaker
// disables a provider.
const failureThreshold = 3

// Descriptor is the catalog's view of one registered provider.
type Descriptor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Models   []string `json:"models"`
	Priority int      `json:"priority"` // lower = tried first
	Enabled  bool     `json:"enabled"`
	Failures int      `json:"failures"`
}

// Catalog registers providers with their model lists and priority order,
// and embeds the circuit breaker: consecutive qualifying failures disable a
// provider, any success or explicit reset clears the count. Disabling is
// per-provider, not per-model, because the provider holds the credential
// and quota that actually fail. State is process-wide and best-effort; a
// restart resets everything to enabled.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]Provider
	descs     map[string]*Descriptor
	failures  map[string]int
	logger    *zap.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{
		providers: make(map[string]Provider),
		descs:     make(map[string]*Descriptor),
		failures:  make(map[string]int),
		logger:    logger,
	}
}

// Register adds a provider with the models it serves and its priority.
func (c *Catalog) Register(p Provider, models []string, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.ID()] = p
	c.descs[p.ID()] = &Descriptor{
		ID:       p.ID(),
		Name:     p.Name(),
		Models:   append([]string(nil), models...),
		Priority: priority,
		Enabled:  true,
	}
	c.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("name", p.Name()),
		zap.Int("priority", priority),
		zap.Strings("models", models))
}

// Provider returns a registered provider by ID.
func (c *Catalog) Provider(id string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[id]
	return p, ok
}

// ProviderFor resolves the enabled provider serving the given model,
// preferring lower priority. Fails with ErrUnknownModel when no enabled
// provider lists it.
func (c *Catalog) ProviderFor(modelName string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.sortedLocked() {
		if !d.Enabled {
			continue
		}
		for _, m := range d.Models {
			if m == modelName {
				return d.ID, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
}

// FallbackChain returns every model served by enabled providers other than
// the primary model's own provider, in ascending provider priority.
func (c *Catalog) FallbackChain(modelName string) []string {
	primary, err := c.ProviderFor(modelName)
	if err != nil {
		primary = ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var chain []string
	for _, d := range c.sortedLocked() {
		if !d.Enabled || d.ID == primary {
			continue
		}
		chain = append(chain, d.Models...)
	}
	return chain
}

// RecommendedFallbacks returns one representative model per enabled
// provider other than the primary's, in priority order. This is the short
// list used for chat and summarization retries, as opposed to the
// exhaustive FallbackChain.
func (c *Catalog) RecommendedFallbacks(modelName string) []string {
	primary, err := c.ProviderFor(modelName)
	if err != nil {
		primary = ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, d := range c.sortedLocked() {
		if !d.Enabled || d.ID == primary || len(d.Models) == 0 {
			continue
		}
		out = append(out, d.Models[0])
	}
	return out
}

// RecordFailure increments the provider's consecutive-failure count and
// disables the provider once the count reaches the threshold. Callers only
// invoke this for failure kinds that qualify (quota exhaustion, degenerate
// responses); transient errors never reach here.
func (c *Catalog) RecordFailure(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.descs[providerID]
	if !ok {
		return
	}
	c.failures[providerID]++
	d.Failures = c.failures[providerID]
	if d.Failures >= failureThreshold && d.Enabled {
		d.Enabled = false
		c.logger.Warn("provider disabled by circuit breaker",
			zap.String("id", providerID),
			zap.Int("failures", d.Failures))
	}
}

// RecordSuccess clears the provider's consecutive-failure count.
func (c *Catalog) RecordSuccess(providerID string) {
	c.resetFailures(providerID)
}

// ResetFailures clears the provider's consecutive-failure count.
func (c *Catalog) ResetFailures(providerID string) {
	c.resetFailures(providerID)
}

func (c *Catalog) resetFailures(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, providerID)
	if d, ok := c.descs[providerID]; ok {
		d.Failures = 0
	}
}

// SetEnabled is the explicit operator override, independent of the breaker.
// Re-enabling also clears the failure count.
func (c *Catalog) SetEnabled(providerID string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.descs[providerID]
	if !ok {
		return
	}
	d.Enabled = enabled
	if enabled {
		delete(c.failures, providerID)
		d.Failures = 0
	}
	c.logger.Info("provider toggled",
		zap.String("id", providerID),
		zap.Bool("enabled", enabled))
}

// Enabled reports whether the provider is currently enabled.
func (c *Catalog) Enabled(providerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descs[providerID]
	return ok && d.Enabled
}

// ModelAvailable reports whether any enabled provider serves the model.
func (c *Catalog) ModelAvailable(modelName string) bool {
	_, err := c.ProviderFor(modelName)
	return err == nil
}

// Models returns all models served by enabled providers, in priority order.
func (c *Catalog) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, d := range c.sortedLocked() {
		if d.Enabled {
			out = append(out, d.Models...)
		}
	}
	return out
}

// Descriptors returns a snapshot of all registered providers sorted by
// priority.
func (c *Catalog) Descriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.descs))
	for _, d := range c.sortedLocked() {
		cp := *d
		cp.Models = append([]string(nil), d.Models...)
		out = append(out, cp)
	}
	return out
}

// sortedLocked returns descriptors ordered by ascending priority, then ID
// for a stable order. Caller must hold at least a read lock.
func (c *Catalog) sortedLocked() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.descs))
	for _, d := range c.descs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
