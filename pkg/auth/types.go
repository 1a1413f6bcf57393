package auth

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a token's authority tier
type Kind string

const (
	// KindGlobalAdmin bypasses scope checks and implicitly holds every
	// permission. Minted only at bootstrap or by another global admin.
	KindGlobalAdmin Kind = "global_admin"
	// KindOrgAdmin is scoped to one organization subtree
	KindOrgAdmin Kind = "org_admin"
	// KindTeam is scoped to one team node and can never issue tokens
	KindTeam Kind = "team"
)

var (
	// ErrInvalidToken covers malformed, unknown, and hash-mismatched
	// tokens uniformly so validation failures carry no probing signal
	ErrInvalidToken = errors.New("invalid token")

	// ErrRevokedToken is returned only after the presented secret matched
	ErrRevokedToken = errors.New("token has been revoked")

	// ErrNotFound is returned by metadata lookups for unknown token IDs
	ErrNotFound = errors.New("token not found")
)

// Token is the persisted token record. Hash and Salt never leave the
// package; the raw secret is returned exactly once at issuance and is not
// recoverable afterwards.
type Token struct {
	ID          string     `json:"id"`
	Hash        string     `json:"-"`
	Salt        string     `json:"-"`
	Prefix      string     `json:"prefix"`
	Kind        Kind       `json:"kind"`
	OrgID       string     `json:"org_id,omitempty"`
	TeamID      string     `json:"team_id,omitempty"`
	Permissions []string   `json:"permissions"`
	IssuedAt    time.Time  `json:"issued_at"`
	IssuedBy    string     `json:"issued_by"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the token has been revoked
func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}

// ScopeNodeID returns the node the token's authority is anchored at:
// team node for team tokens, org node for org admins, empty for global
func (t *Token) ScopeNodeID() string {
	if t.TeamID != "" {
		return t.TeamID
	}
	return t.OrgID
}

// Metadata returns a copy safe for the ops surface, with Hash and Salt
// stripped
func (t *Token) Metadata() *Token {
	dup := *t
	dup.Hash = ""
	dup.Salt = ""
	dup.Permissions = append([]string{}, t.Permissions...)
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		dup.RevokedAt = &at
	}
	return &dup
}

// Identity is the authenticated principal derived from a validated token.
// It satisfies rbac.Identity.
type Identity struct {
	TokenID     string   `json:"token_id"`
	Kind        Kind     `json:"kind"`
	OrgID       string   `json:"org_id,omitempty"`
	TeamID      string   `json:"team_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// IsGlobalAdmin reports whether the identity bypasses scope checks
func (i *Identity) IsGlobalAdmin() bool {
	return i.Kind == KindGlobalAdmin
}

// ScopeNodeID returns the org tree node the identity is scoped to
func (i *Identity) ScopeNodeID() string {
	if i.TeamID != "" {
		return i.TeamID
	}
	return i.OrgID
}

// HeldPermissions returns the identity's permission strings
func (i *Identity) HeldPermissions() []string {
	return i.Permissions
}

// ActorRef returns the reference recorded in audit entries
func (i *Identity) ActorRef() string {
	return "token:" + i.TokenID
}

// Store persists token records. Mutations append their audit entries
// atomically with the record change.
type Store interface {
	// Insert persists a new token and appends its token_issued audit
	// entry in the same transaction
	Insert(ctx context.Context, token *Token, requestID string) error

	// GetByID returns the full record including hash and salt, or
	// ErrNotFound. Revoked tokens are returned; callers decide.
	GetByID(ctx context.Context, id string) (*Token, error)

	// Revoke sets revoked_at and appends a token_revoked audit entry in
	// the same transaction. Revoking an already-revoked token is a no-op
	// that appends nothing. Returns the post-revocation record.
	Revoke(ctx context.Context, id, actor, requestID string) (*Token, error)

	// ListByNode returns tokens scoped to the given node, newest first
	ListByNode(ctx context.Context, nodeID string) ([]*Token, error)
}
