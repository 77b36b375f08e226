package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// ProviderRow is a provider registration as persisted. API keys are
// plaintext in memory and AES-256-GCM encrypted at rest.
type ProviderRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Endpoint  string    `json:"endpoint"`
	APIKey    string    `json:"api_key"`
	Models    []string  `json:"models"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// encryptKey returns the 32-byte AES key from COPPERLINE_ENCRYPT_KEY.
func encryptKey() ([]byte, error) {
	keyHex := os.Getenv("COPPERLINE_ENCRYPT_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("COPPERLINE_ENCRYPT_KEY not set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode COPPERLINE_ENCRYPT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("COPPERLINE_ENCRYPT_KEY must be 64 hex chars (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

func encrypt(plaintext string) ([]byte, error) {
	key, err := encryptKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	key, err := encryptKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SaveProvider upserts a provider registration with an encrypted API key.
func (s *Store) SaveProvider(ctx context.Context, p *ProviderRow) error {
	encKey, err := encrypt(p.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api_key: %w", err)
	}
	modelsJSON, _ := json.Marshal(p.Models)

	_, err = s.db.Exec(ctx, `
		INSERT INTO providers (id, name, type, endpoint, api_key_enc, models, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			endpoint = EXCLUDED.endpoint,
			api_key_enc = EXCLUDED.api_key_enc,
			models = EXCLUDED.models,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`,
		p.ID, p.Name, p.Type, p.Endpoint, encKey, modelsJSON, p.Priority, p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("save provider %s: %w", p.ID, err)
	}
	return nil
}

// GetProvider returns a single registration with the API key decrypted.
func (s *Store) GetProvider(ctx context.Context, id string) (*ProviderRow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, type, endpoint, api_key_enc, models, priority, enabled, created_at, updated_at
		FROM providers WHERE id = $1`, id)

	var p ProviderRow
	var encKey, modelsJSON []byte
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Endpoint, &encKey,
		&modelsJSON, &p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}

	p.APIKey, _ = decrypt(encKey)
	_ = json.Unmarshal(modelsJSON, &p.Models)
	return &p, nil
}

// ListProviders returns every registration ordered by priority.
func (s *Store) ListProviders(ctx context.Context) ([]*ProviderRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, type, endpoint, api_key_enc, models, priority, enabled, created_at, updated_at
		FROM providers ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderRow
	for rows.Next() {
		var p ProviderRow
		var encKey, modelsJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Endpoint, &encKey,
			&modelsJSON, &p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		p.APIKey, _ = decrypt(encKey)
		_ = json.Unmarshal(modelsJSON, &p.Models)
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// SetProviderEnabled persists a manual enable or disable so the toggle
// survives restarts.
func (s *Store) SetProviderEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("set provider enabled: %w", err)
	}
	return nil
}

// DeleteProvider removes a registration.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return nil
}
