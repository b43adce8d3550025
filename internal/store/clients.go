package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// GenerateAPIKey creates a new agk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the caller once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "agk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "agk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateClient inserts a new API client. Returns the client and the plaintext
// key, which is never stored and never shown again.
func (s *PostgresStore) CreateClient(ctx context.Context, name string) (*APIClient, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateClient: %w", err)
	}

	c := &APIClient{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_clients (id, name, key_hash, key_prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, c.Name, c.KeyHash, c.KeyPrefix,
	).Scan(&c.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateClient: %w", err)
	}
	return c, fullKey, nil
}

func (s *PostgresStore) ListClients(ctx context.Context) ([]APIClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, created_at
		FROM api_clients
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListClients: %w", err)
	}
	defer rows.Close()

	var out []APIClient
	for rows.Next() {
		var c APIClient
		if err := rows.Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListClients: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListClients: %w", err)
	}
	return out, nil
}

// LookupClientByPrefix finds the client whose key prefix matches.
// Returns nil without error when no client matches.
func (s *PostgresStore) LookupClientByPrefix(ctx context.Context, prefix string) (*APIClient, error) {
	var c APIClient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, key_prefix, created_at
		FROM api_clients WHERE key_prefix = $1`, prefix,
	).Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupClientByPrefix: %w", err)
	}
	return &c, nil
}
