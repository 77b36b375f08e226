package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInvokeTimeout bounds how long a provider may take to start
// streaming.
const DefaultInvokeTimeout = 30 * time.Second

// Client invokes a single provider/model, racing the call against a hard
// timeout. Credential problems fail fast before any network I/O.
type Client struct {
	catalog *Catalog
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a streaming client over the given catalog. A zero
// timeout means DefaultInvokeTimeout.
func NewClient(catalog *Catalog, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Client{catalog: catalog, timeout: timeout, logger: logger}
}

// Invoke resolves the provider and starts a stream for the given model.
// The returned stream preserves the provider's emission order, delivers
// each chunk exactly once, and closes when the provider finishes or the
// caller's context is cancelled. The loser of the timeout race is
// abandoned via context cancellation.
func (c *Client) Invoke(ctx context.Context, providerID, modelName string, messages []Message, temperature float64, maxTokens int) StreamResult {
	p, ok := c.catalog.Provider(providerID)
	if !ok {
		return StreamResult{Err: NewStreamError(KindConfig, "provider %s not registered", providerID)}
	}
	if err := p.Configured(); err != nil {
		return StreamResult{Err: NewStreamError(KindConfig, "provider %s: %v", providerID, err)}
	}

	req := &ChatRequest{
		Model:       modelName,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	callCtx, cancel := context.WithCancel(ctx)

	type outcome struct {
		ch  <-chan *StreamChunk
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ch, err := p.ChatStream(callCtx, req)
		done <- outcome{ch: ch, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			cancel()
			kind := Classify(out.err)
			c.logger.Warn("provider invocation failed",
				zap.String("provider", providerID),
				zap.String("model", modelName),
				zap.String("kind", string(kind)),
				zap.Error(out.err))
			return StreamResult{Err: NewStreamError(kind, "%v", out.err)}
		}
		return StreamResult{
			Stream:     relay(callCtx, cancel, out.ch),
			ProviderID: providerID,
			Model:      modelName,
		}
	case <-timer.C:
		cancel()
		c.logger.Warn("provider invocation timed out",
			zap.String("provider", providerID),
			zap.String("model", modelName),
			zap.Duration("timeout", c.timeout))
		return StreamResult{Err: NewStreamError(KindTimeout, "provider %s timed out after %s", providerID, c.timeout)}
	case <-ctx.Done():
		cancel()
		return StreamResult{Err: NewStreamError(Classify(ctx.Err()), "%v", ctx.Err())}
	}
}

// relay forwards chunks on an unbuffered channel so delivery is
// back-pressured by the consumer, and cancels the underlying call once the
// source is drained or the context ends.
func relay(ctx context.Context, cancel context.CancelFunc, src <-chan *StreamChunk) <-chan *StreamChunk {
	out := make(chan *StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		for chunk := range src {
			select {
			case out <- chunk:
			case <-ctx.Done():
				// The producer may be parked on a send into src; keep
				// draining it so cancellation can reach its read loop and
				// the response body gets closed.
				go func() {
					for range src {
					}
				}()
				return
			}
		}
	}()
	return out
}
