package chat

import (
	"context"
	"strings"
	"time"

	convctx "github.com/nidhogg/copperline/internal/context"
	"github.com/nidhogg/copperline/internal/provider"
	"github.com/nidhogg/copperline/internal/token"
	"go.uber.org/zap"
)

const (
	chatTemperature = 0.7
	retrievalLimit  = 5
)

// ConversationStore persists conversations. The full turn history is always
// kept; summarization only ever rewrites the summary column.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conversationID, userID string) (*convctx.Conversation, error)
	AppendTurn(ctx context.Context, conversationID, userID string, turn convctx.Turn) error
	UpdateSummary(ctx context.Context, conversationID, userID, summary string) error
}

// CRMProvider produces the per-user CRM aggregate that grounds the system
// prompt.
type CRMProvider interface {
	Snapshot(ctx context.Context, userID string) (*CRMSnapshot, error)
}

// Retriever finds note snippets relevant to the user's message.
type Retriever interface {
	Search(ctx context.Context, userID, query string, limit int) ([]string, error)
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Model          string
	Text           string
}

// TurnResult reports what happened while answering a turn.
type TurnResult struct {
	Reply         string         `json:"reply"`
	ProviderID    string         `json:"provider_id"`
	Model         string         `json:"model"`
	WasSummarized bool           `json:"was_summarized"`
	Reason        convctx.Reason `json:"summarization_reason"`
	TokenCount    int            `json:"token_count"`
	Interrupted   bool           `json:"interrupted"`
}

// Service runs the full chat turn: persistence, context management, prompt
// assembly, orchestrated streaming, and the drained-but-empty retry.
type Service struct {
	catalog    *provider.Catalog
	orch       *provider.Orchestrator
	counter    *token.Counter
	summarizer *convctx.Summarizer
	store      ConversationStore
	crm        CRMProvider
	retriever  Retriever
	logger     *zap.Logger
}

// NewService wires the chat pipeline. crm and retriever may be nil; the
// prompt simply omits their blocks.
func NewService(catalog *provider.Catalog, orch *provider.Orchestrator, counter *token.Counter,
	summarizer *convctx.Summarizer, store ConversationStore, crm CRMProvider, retriever Retriever,
	logger *zap.Logger) *Service {
	return &Service{
		catalog:    catalog,
		orch:       orch,
		counter:    counter,
		summarizer: summarizer,
		store:      store,
		crm:        crm,
		retriever:  retriever,
		logger:     logger,
	}
}

// HandleTurn appends the user's message, manages the context window,
// streams the assistant's reply through emit chunk by chunk, and persists
// the outcome. An interrupted stream persists the partial reply with an
// interruption marker rather than dropping it.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest, emit func(string) error) (*TurnResult, error) {
	model := req.Model
	if model == "" {
		model = provider.DefaultModel
	}

	conv, err := s.store.GetOrCreate(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}

	userTurn := convctx.Turn{Sender: convctx.SenderUser, Text: req.Text, OccurredAt: time.Now().UTC()}
	if err := s.store.AppendTurn(ctx, req.ConversationID, req.UserID, userTurn); err != nil {
		return nil, err
	}
	conv.Turns = append(conv.Turns, userTurn)

	snapshot := s.snapshot(ctx, req.UserID)
	snippets := s.search(ctx, req.UserID, req.Text)

	manager := convctx.NewManager(model, s.counter, s.summarizer.Summarize, s.logger)
	decision := manager.Manage(ctx, conv.Turns, conv.Summary)
	if decision.WasSummarized {
		if err := s.store.UpdateSummary(ctx, req.ConversationID, req.UserID, decision.Summary); err != nil {
			s.logger.Warn("failed to persist conversation summary",
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err))
		}
	}

	system := BuildSystemPrompt(snapshot, decision.Summary, snippets)
	messages := make([]provider.Message, 0, len(decision.Messages)+1)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	messages = append(messages, convctx.ToMessages(decision.Messages)...)

	result := &TurnResult{
		Model:         model,
		WasSummarized: decision.WasSummarized,
		Reason:        decision.Reason,
		TokenCount:    decision.TokenCount,
	}

	res := s.orch.Run(ctx, model, s.catalog.RecommendedFallbacks(model), messages, chatTemperature, responseBudget(model))
	if !res.OK() {
		return nil, res.Err
	}

	reply, interrupted := s.drain(ctx, res.Stream, emit)
	if interrupted {
		return s.finishInterrupted(ctx, req, result, res, reply)
	}

	if strings.TrimSpace(reply) == "" {
		// The primary stream drained without producing anything. That is a
		// qualifying failure, and the orchestrator has already moved on, so
		// the retry walks the recommended fallbacks one model at a time.
		s.catalog.RecordFailure(res.ProviderID)
		s.logger.Warn("empty response, retrying fallback models",
			zap.String("provider", res.ProviderID),
			zap.String("model", res.Model))
		return s.retryEmpty(ctx, req, result, model, messages, emit)
	}

	return s.finish(ctx, req, result, res, reply)
}

// Debug reports the context manager's view of the conversation without
// mutating it.
func (s *Service) Debug(ctx context.Context, conversationID, userID, model string) (*convctx.DebugInfo, error) {
	if model == "" {
		model = provider.DefaultModel
	}
	conv, err := s.store.GetOrCreate(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	manager := convctx.NewManager(model, s.counter, s.summarizer.Summarize, s.logger)
	info := manager.Debug(conv.Turns, conv.Summary)
	return &info, nil
}

func (s *Service) snapshot(ctx context.Context, userID string) *CRMSnapshot {
	if s.crm == nil {
		return nil
	}
	snap, err := s.crm.Snapshot(ctx, userID)
	if err != nil {
		s.logger.Warn("crm snapshot unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return snap
}

func (s *Service) search(ctx context.Context, userID, query string) []string {
	if s.retriever == nil {
		return nil
	}
	snippets, err := s.retriever.Search(ctx, userID, query, retrievalLimit)
	if err != nil {
		s.logger.Warn("note retrieval unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return snippets
}

// drain forwards the stream through emit and accumulates the full reply.
// It reports interruption when the caller's context ends or emit fails
// before the stream completes.
func (s *Service) drain(ctx context.Context, stream <-chan *provider.StreamChunk, emit func(string) error) (string, bool) {
	var b strings.Builder
	for chunk := range stream {
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if emit != nil {
			if err := emit(chunk.Content); err != nil {
				s.logger.Warn("client stopped consuming stream", zap.Error(err))
				return b.String(), true
			}
		}
	}
	if ctx.Err() != nil {
		return b.String(), true
	}
	return b.String(), false
}

// retryEmpty walks the recommended fallbacks one at a time, each without
// further fallbacks of its own, until one produces content.
func (s *Service) retryEmpty(ctx context.Context, req TurnRequest, result *TurnResult,
	model string, messages []provider.Message, emit func(string) error) (*TurnResult, error) {
	for _, fm := range s.catalog.RecommendedFallbacks(model) {
		if ctx.Err() != nil {
			break
		}
		res := s.orch.Run(ctx, fm, nil, messages, chatTemperature, responseBudget(fm))
		if !res.OK() {
			continue
		}
		reply, interrupted := s.drain(ctx, res.Stream, emit)
		if interrupted {
			return s.finishInterrupted(ctx, req, result, res, reply)
		}
		if strings.TrimSpace(reply) != "" {
			return s.finish(ctx, req, result, res, reply)
		}
		s.catalog.RecordFailure(res.ProviderID)
	}
	return nil, provider.NewStreamError(provider.KindEmpty,
		"no response received from %s and its fallbacks", model)
}

func (s *Service) finish(ctx context.Context, req TurnRequest, result *TurnResult,
	res provider.StreamResult, reply string) (*TurnResult, error) {
	// Content confirmed; only now does the provider's failure streak clear.
	s.catalog.RecordSuccess(res.ProviderID)
	reply = strings.TrimSpace(reply)
	aiTurn := convctx.Turn{Sender: convctx.SenderAssistant, Text: reply, OccurredAt: time.Now().UTC()}
	if err := s.store.AppendTurn(ctx, req.ConversationID, req.UserID, aiTurn); err != nil {
		s.logger.Error("failed to persist assistant turn",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		return nil, err
	}
	result.Reply = reply
	result.ProviderID = res.ProviderID
	result.Model = res.Model
	return result, nil
}

// finishInterrupted persists whatever arrived before the stream was cut
// off, marked so the history is honest about it.
func (s *Service) finishInterrupted(ctx context.Context, req TurnRequest, result *TurnResult,
	res provider.StreamResult, partial string) (*TurnResult, error) {
	result.Interrupted = true
	result.ProviderID = res.ProviderID
	result.Model = res.Model
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return result, nil
	}
	// The provider delivered real content; the interruption was ours.
	s.catalog.RecordSuccess(res.ProviderID)
	marked := partial + " [Stream interrupted]"
	aiTurn := convctx.Turn{Sender: convctx.SenderAssistant, Text: marked, OccurredAt: time.Now().UTC()}
	// The caller's context may already be done; persistence gets its own
	// short deadline so the partial is not lost with it.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.AppendTurn(persistCtx, req.ConversationID, req.UserID, aiTurn); err != nil {
		s.logger.Error("failed to persist interrupted turn",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
	}
	result.Reply = marked
	return result, nil
}

// responseBudget caps the completion size the way the chat route always
// has: at most 1000 tokens, never above the model's ceiling.
func responseBudget(model string) int {
	limits := provider.LimitsFor(model)
	budget := limits.ResponseBudget
	if limits.TokenCeiling < budget {
		budget = limits.TokenCeiling
	}
	return budget
}
