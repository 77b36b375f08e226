package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	convctx "github.com/nidhogg/copperline/internal/context"
)

// ErrNotFound is returned when a conversation does not exist for the user.
var ErrNotFound = errors.New("conversation not found")

// GetOrCreate returns the conversation with its full turn history, creating
// an empty one on first contact. Conversation keys are scoped per user.
func (s *Store) GetOrCreate(ctx context.Context, conversationID, userID string) (*convctx.Conversation, error) {
	var c convctx.Conversation
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, conversation_key, user_id, summary)
		VALUES (gen_random_uuid(), $1, $2, '')
		ON CONFLICT (conversation_key, user_id)
		DO UPDATE SET updated_at = NOW()
		RETURNING conversation_key, user_id, COALESCE(title,''), summary, created_at, updated_at`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}

	turns, err := s.turns(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	c.Turns = turns
	return &c, nil
}

// Get returns the conversation or ErrNotFound.
func (s *Store) Get(ctx context.Context, conversationID, userID string) (*convctx.Conversation, error) {
	var c convctx.Conversation
	err := s.db.QueryRow(ctx, `
		SELECT conversation_key, user_id, COALESCE(title,''), summary, created_at, updated_at
		FROM conversations
		WHERE conversation_key = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	turns, err := s.turns(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	c.Turns = turns
	return &c, nil
}

// AppendTurn stores one turn at the end of the conversation. History is
// append-only; turns are never rewritten.
func (s *Store) AppendTurn(ctx context.Context, conversationID, userID string, turn convctx.Turn) error {
	occurred := turn.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO turns (id, conversation_id, sender, body, occurred_at)
		SELECT gen_random_uuid(), c.id, $3, $4, $5
		FROM conversations c
		WHERE c.conversation_key = $1 AND c.user_id = $2`,
		conversationID, userID, string(turn.Sender), turn.Text, occurred,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = s.db.Exec(ctx, `
		UPDATE conversations SET updated_at = NOW()
		WHERE conversation_key = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// UpdateSummary rewrites the conversation's summary column. The turn rows
// stay untouched so the full history remains viewable.
func (s *Store) UpdateSummary(ctx context.Context, conversationID, userID, summary string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET summary = $3, updated_at = NOW()
		WHERE conversation_key = $1 AND user_id = $2`,
		conversationID, userID, summary,
	)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitle renames the conversation.
func (s *Store) UpdateTitle(ctx context.Context, conversationID, userID, title string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET title = $3, updated_at = NOW()
		WHERE conversation_key = $1 AND user_id = $2`,
		conversationID, userID, title,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the conversation and its turns.
func (s *Store) Delete(ctx context.Context, conversationID, userID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM conversations
		WHERE conversation_key = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the user's conversations without their turn histories,
// most recently active first.
func (s *Store) List(ctx context.Context, userID string) ([]*convctx.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT conversation_key, user_id, COALESCE(title,''), summary, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*convctx.Conversation
	for rows.Next() {
		var c convctx.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) turns(ctx context.Context, conversationID, userID string) ([]convctx.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.sender, t.body, t.occurred_at
		FROM turns t
		JOIN conversations c ON c.id = t.conversation_id
		WHERE c.conversation_key = $1 AND c.user_id = $2
		ORDER BY t.seq ASC`,
		conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []convctx.Turn
	for rows.Next() {
		var t convctx.Turn
		var sender string
		if err := rows.Scan(&sender, &t.Text, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Sender = convctx.Sender(sender)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
