package context

import (
	"time"

	"github.com/nidhogg/copperline/internal/provider"
	"github.com/nidhogg/copperline/internal/token"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Turn is one message in a conversation. Turns are append-only and never
// mutated once stored.
type Turn struct {
	Sender     Sender    `json:"sender"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Role maps the sender onto the chat-completion role.
func (t Turn) Role() string {
	if t.Sender == SenderUser {
		return "user"
	}
	return "assistant"
}

// Conversation is the stored chat state: a prior summary describing turns
// no longer sent verbatim, plus the full ordered turn history. The summary
// is the only field summarization mutates.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reason records which threshold triggered summarization.
type Reason string

const (
	ReasonNone       Reason = "none"
	ReasonTokenLimit Reason = "token_limit"
	ReasonTurnCount  Reason = "turn_count"
)

// Decision is the outcome of one context-management pass: the exact turn
// window to send, the (possibly merged) summary, and bookkeeping for
// observability.
type Decision struct {
	Messages      []Turn `json:"messages"`
	Summary       string `json:"summary"`
	WasSummarized bool   `json:"was_summarized"`
	Reason        Reason `json:"reason"`
	TokenCount    int    `json:"token_count"`
}

// ToMessages converts turns into provider chat messages, preserving order.
func ToMessages(turns []Turn) []provider.Message {
	msgs := make([]provider.Message, len(turns))
	for i, t := range turns {
		msgs[i] = provider.Message{Role: t.Role(), Content: t.Text}
	}
	return msgs
}

func toRoleTexts(turns []Turn) []token.RoleText {
	out := make([]token.RoleText, len(turns))
	for i, t := range turns {
		out[i] = token.RoleText{Role: t.Role(), Content: t.Text}
	}
	return out
}
