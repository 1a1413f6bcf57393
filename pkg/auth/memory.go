package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
)

// MemoryStore implements Store in memory with the same semantics as the
// Postgres store, including the audit coupling on mutations. Used by unit
// tests and embedded deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	log    audit.Log
}

// NewMemoryStore creates a new in-memory token store
func NewMemoryStore(log audit.Log) *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*Token),
		log:    log,
	}
}

func copyToken(t *Token) *Token {
	dup := *t
	dup.Permissions = append([]string{}, t.Permissions...)
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		dup.RevokedAt = &at
	}
	return &dup
}

// Insert persists a new token. If the audit append fails the token is not
// retained, mirroring the Postgres transaction rollback.
func (s *MemoryStore) Insert(ctx context.Context, token *Token, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("token %s already exists", token.ID)
	}

	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}

	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}
	entry := &audit.Entry{
		NodeID: token.ScopeNodeID(),
		Actor:  token.IssuedBy,
		Action: audit.ActionTokenIssued,
		Metadata: map[string]interface{}{
			"token_id":     token.ID,
			"token_prefix": token.Prefix,
			"kind":         string(token.Kind),
		},
		RequestID: requestID,
		CreatedAt: token.IssuedAt,
	}
	if err := s.log.Append(ctx, nil, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	s.tokens[token.ID] = copyToken(token)
	return nil
}

// GetByID returns the full token record including hash and salt
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyToken(token), nil
}

// Revoke sets revoked_at and appends a token_revoked audit entry.
// Already-revoked tokens pass through unchanged.
func (s *MemoryStore) Revoke(ctx context.Context, id, actor, requestID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if token.Revoked() {
		return copyToken(token), nil
	}

	revokedAt := time.Now().UTC()

	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}
	entry := &audit.Entry{
		NodeID: token.ScopeNodeID(),
		Actor:  actor,
		Action: audit.ActionTokenRevoked,
		Metadata: map[string]interface{}{
			"token_id":     token.ID,
			"token_prefix": token.Prefix,
		},
		RequestID: requestID,
		CreatedAt: revokedAt,
	}
	if err := s.log.Append(ctx, nil, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	token.RevokedAt = &revokedAt
	return copyToken(token), nil
}

// ListByNode returns tokens anchored at the given node, newest first
func (s *MemoryStore) ListByNode(ctx context.Context, nodeID string) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []*Token
	for _, token := range s.tokens {
		if token.ScopeNodeID() == nodeID {
			tokens = append(tokens, copyToken(token))
		}
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].IssuedAt.After(tokens[j].IssuedAt)
	})
	return tokens, nil
}
