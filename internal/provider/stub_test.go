package provider

import (
	"context"
	"errors"
	"time"
)

// stubProvider is an in-memory Provider for tests. Each invocation is
// counted; behavior is scripted via fields.
type stubProvider struct {
	id        string
	name      string
	credErr   error
	streamErr error
	delay     time.Duration // blocks ChatStream before returning
	chunks    []string
	calls     int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Configured() error { return s.credErr }

func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	content := ""
	for _, c := range s.chunks {
		content += c
	}
	return &ChatResponse{Model: req.Model, Content: content}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan *StreamChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- &StreamChunk{Content: c}
	}
	ch <- &StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *stubProvider) ListModels(context.Context) ([]Model, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) HealthCheck(context.Context) error { return nil }

// drain collects all content from a stream.
func drain(ch <-chan *StreamChunk) string {
	out := ""
	for chunk := range ch {
		out += chunk.Content
	}
	return out
}
