package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/copperline/internal/chat"
)

const (
	recentContactsLimit = 10
	recentActivityLimit = 5
	topCompaniesLimit   = 10
)

// Snapshot aggregates the user's CRM state for prompt grounding: totals,
// the biggest companies, the contacts and activities touched most recently,
// and the tag vocabulary.
func (s *Store) Snapshot(ctx context.Context, userID string) (*chat.CRMSnapshot, error) {
	snap := &chat.CRMSnapshot{}

	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM contacts WHERE user_id = $1),
			(SELECT COUNT(DISTINCT company) FROM contacts WHERE user_id = $1 AND company <> ''),
			(SELECT COUNT(*) FROM tags WHERE user_id = $1)`,
		userID,
	).Scan(&snap.TotalContacts, &snap.CompaniesCount, &snap.TagsCount)
	if err != nil {
		return nil, fmt.Errorf("crm totals: %w", err)
	}

	if err := s.topCompanies(ctx, userID, snap); err != nil {
		return nil, err
	}
	if err := s.recentContacts(ctx, userID, snap); err != nil {
		return nil, err
	}
	if err := s.recentActivity(ctx, userID, snap); err != nil {
		return nil, err
	}
	if err := s.tagNames(ctx, userID, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) topCompanies(ctx context.Context, userID string, snap *chat.CRMSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT company, COUNT(*) AS n
		FROM contacts
		WHERE user_id = $1 AND company <> ''
		GROUP BY company
		ORDER BY n DESC, company ASC
		LIMIT $2`, userID, topCompaniesLimit)
	if err != nil {
		return fmt.Errorf("top companies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c chat.CompanyCount
		if err := rows.Scan(&c.Company, &c.Count); err != nil {
			return fmt.Errorf("scan company: %w", err)
		}
		snap.TopCompanies = append(snap.TopCompanies, c)
	}
	return rows.Err()
}

func (s *Store) recentContacts(ctx context.Context, userID string, snap *chat.CRMSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT name, email, COALESCE(company,''), COALESCE(tags, '{}'), COALESCE(last_interaction, created_at)
		FROM contacts
		WHERE user_id = $1
		ORDER BY last_interaction DESC NULLS LAST
		LIMIT $2`, userID, recentContactsLimit)
	if err != nil {
		return fmt.Errorf("recent contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c chat.ContactSummary
		if err := rows.Scan(&c.Name, &c.Email, &c.Company, &c.Tags, &c.LastInteraction); err != nil {
			return fmt.Errorf("scan contact: %w", err)
		}
		snap.RecentContacts = append(snap.RecentContacts, c)
	}
	return rows.Err()
}

func (s *Store) recentActivity(ctx context.Context, userID string, snap *chat.CRMSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT activity_type, COALESCE(details,''), occurred_at
		FROM activities
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, userID, recentActivityLimit)
	if err != nil {
		return fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a chat.ActivitySummary
		if err := rows.Scan(&a.Kind, &a.Details, &a.OccurredAt); err != nil {
			return fmt.Errorf("scan activity: %w", err)
		}
		snap.RecentActivity = append(snap.RecentActivity, a)
	}
	return rows.Err()
}

func (s *Store) tagNames(ctx context.Context, userID string, snap *chat.CRMSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT name FROM tags WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		snap.Tags = append(snap.Tags, name)
	}
	return rows.Err()
}
