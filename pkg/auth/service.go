package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// ErrInvalidScope is returned when an issuance request's kind and scope
// fields contradict each other or reference unusable nodes
var ErrInvalidScope = errors.New("invalid token scope")

// EventSink receives token lifecycle notifications. Delivery is
// best-effort and must not block.
type EventSink interface {
	Emit(ctx context.Context, event string, data map[string]interface{})
}

// IssueRequest describes the token to mint
type IssueRequest struct {
	Kind        Kind     `json:"kind"`
	OrgID       string   `json:"org_id,omitempty"`
	TeamID      string   `json:"team_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// Service is the token authority: it mints, validates, and revokes the
// bearer tokens every API call authenticates with.
type Service struct {
	store    Store
	tree     orgtree.Store
	enforcer *rbac.Enforcer
	gen      *Generator
	events   EventSink
	metrics  *observability.Metrics
}

// NewService creates a new token authority. events may be nil.
func NewService(store Store, tree orgtree.Store, enforcer *rbac.Enforcer, events EventSink, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		tree:     tree,
		enforcer: enforcer,
		gen:      NewGenerator(),
		events:   events,
		metrics:  metrics,
	}
}

// Issue mints a new token. The raw form is returned exactly once; only the
// salt and hash are stored. Issuance gating: global admins issue anything,
// org admins issue team tokens inside their own org only, team tokens never
// issue.
func (s *Service) Issue(ctx context.Context, issuer rbac.Identity, req IssueRequest) (string, *Token, error) {
	if err := s.authorizeIssue(ctx, issuer, req); err != nil {
		return "", nil, err
	}
	if err := s.validateRequest(ctx, req); err != nil {
		return "", nil, err
	}

	id, raw, salt, hash, err := s.gen.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &Token{
		ID:          id,
		Hash:        hash,
		Salt:        salt,
		Prefix:      DisplayPrefix(id),
		Kind:        req.Kind,
		OrgID:       req.OrgID,
		TeamID:      req.TeamID,
		Permissions: append([]string{}, req.Permissions...),
		IssuedBy:    issuer.ActorRef(),
	}

	if err := s.store.Insert(ctx, token, ""); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(string(token.Kind)).Inc()
	}
	if s.events != nil {
		s.events.Emit(ctx, "token.issued", map[string]interface{}{
			"token_id":     token.ID,
			"token_prefix": token.Prefix,
			"kind":         string(token.Kind),
			"node_id":      token.ScopeNodeID(),
		})
	}

	return raw, token.Metadata(), nil
}

func (s *Service) authorizeIssue(ctx context.Context, issuer rbac.Identity, req IssueRequest) error {
	if issuer == nil {
		return fmt.Errorf("%w: no issuer identity", rbac.ErrDenied)
	}
	if issuer.IsGlobalAdmin() {
		return nil
	}

	authIssuer, ok := issuer.(*Identity)
	if !ok || authIssuer.Kind != KindOrgAdmin {
		return fmt.Errorf("%w: only admin tokens issue tokens", rbac.ErrDenied)
	}
	if req.Kind != KindTeam {
		return fmt.Errorf("%w: org admins issue team tokens only", rbac.ErrDenied)
	}
	if req.OrgID != authIssuer.OrgID {
		return fmt.Errorf("%w: org admins issue within their own org only", rbac.ErrDenied)
	}
	return nil
}

// validateRequest checks the kind/scope invariants: global_admin carries no
// scope, org_admin an org only, team tokens an org plus a team inside it.
func (s *Service) validateRequest(ctx context.Context, req IssueRequest) error {
	for _, p := range req.Permissions {
		if _, err := rbac.ParsePermission(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
	}

	switch req.Kind {
	case KindGlobalAdmin:
		if req.OrgID != "" || req.TeamID != "" {
			return fmt.Errorf("%w: global admin tokens carry no org or team", ErrInvalidScope)
		}
		return nil

	case KindOrgAdmin:
		if req.OrgID == "" || req.TeamID != "" {
			return fmt.Errorf("%w: org admin tokens carry an org and no team", ErrInvalidScope)
		}
		org, err := s.tree.GetNode(ctx, req.OrgID)
		if err != nil {
			return fmt.Errorf("%w: org %s: %v", ErrInvalidScope, req.OrgID, err)
		}
		if org.Kind != orgtree.KindOrganization {
			return fmt.Errorf("%w: %s is not an organization", ErrInvalidScope, req.OrgID)
		}
		return nil

	case KindTeam:
		if req.OrgID == "" || req.TeamID == "" {
			return fmt.Errorf("%w: team tokens carry both org and team", ErrInvalidScope)
		}
		team, err := s.tree.GetNode(ctx, req.TeamID)
		if err != nil {
			return fmt.Errorf("%w: team %s: %v", ErrInvalidScope, req.TeamID, err)
		}
		if !team.IsAncestorOrSelf(req.OrgID) {
			return fmt.Errorf("%w: team %s is not inside org %s", ErrInvalidScope, req.TeamID, req.OrgID)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, req.Kind)
	}
}

// Validate authenticates a presented raw token. Malformed, unknown, and
// secret-mismatched tokens all fail with the same ErrInvalidToken;
// ErrRevokedToken surfaces only after the secret matched.
func (s *Service) Validate(ctx context.Context, raw string) (*Identity, error) {
	id, secret, err := s.gen.ParseRaw(raw)
	if err != nil {
		s.recordValidation("malformed")
		return nil, ErrInvalidToken
	}

	token, err := s.store.GetByID(ctx, id)
	if err != nil {
		s.recordValidation("unknown")
		return nil, ErrInvalidToken
	}

	if !s.gen.Verify(token.Salt, token.Hash, secret) {
		s.recordValidation("mismatch")
		return nil, ErrInvalidToken
	}

	if token.Revoked() {
		s.recordValidation("revoked")
		return nil, ErrRevokedToken
	}

	s.recordValidation("ok")
	return &Identity{
		TokenID:     token.ID,
		Kind:        token.Kind,
		OrgID:       token.OrgID,
		TeamID:      token.TeamID,
		Permissions: append([]string{}, token.Permissions...),
	}, nil
}

func (s *Service) recordValidation(result string) {
	if s.metrics != nil {
		s.metrics.TokenValidationsTotal.WithLabelValues(result).Inc()
	}
}

// Revoke revokes a token. Requires token:revoke at or above the token's
// scope node; revoking a global admin token requires global admin.
// Revocation is idempotent.
func (s *Service) Revoke(ctx context.Context, actor rbac.Identity, tokenID string) (*Token, error) {
	token, err := s.store.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	scopeNode := token.ScopeNodeID()
	if scopeNode == "" {
		// Global admin tokens have no scope node to anchor a check on
		if actor == nil || !actor.IsGlobalAdmin() {
			return nil, fmt.Errorf("%w: revoking a global admin token requires global admin", rbac.ErrDenied)
		}
	} else if err := s.enforcer.Require(ctx, actor, rbac.PermTokenRevoke, scopeNode); err != nil {
		return nil, err
	}

	wasRevoked := token.Revoked()
	revoked, err := s.store.Revoke(ctx, tokenID, actor.ActorRef(), "")
	if err != nil {
		return nil, err
	}

	if !wasRevoked {
		if s.metrics != nil {
			s.metrics.TokensRevokedTotal.Inc()
		}
		if s.events != nil {
			s.events.Emit(ctx, "token.revoked", map[string]interface{}{
				"token_id":     revoked.ID,
				"token_prefix": revoked.Prefix,
				"node_id":      revoked.ScopeNodeID(),
			})
		}
	}

	return revoked.Metadata(), nil
}

// Get returns token metadata for the ops surface. Requires token:read at
// or above the token's scope node.
func (s *Service) Get(ctx context.Context, actor rbac.Identity, tokenID string) (*Token, error) {
	token, err := s.store.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	scopeNode := token.ScopeNodeID()
	if scopeNode == "" {
		if actor == nil || !actor.IsGlobalAdmin() {
			return nil, fmt.Errorf("%w: reading a global admin token requires global admin", rbac.ErrDenied)
		}
	} else if err := s.enforcer.Require(ctx, actor, rbac.PermTokenRead, scopeNode); err != nil {
		return nil, err
	}

	return token.Metadata(), nil
}

// ListForNode returns metadata for tokens anchored at a node. Requires
// token:read at or above that node.
func (s *Service) ListForNode(ctx context.Context, actor rbac.Identity, nodeID string) ([]*Token, error) {
	if err := s.enforcer.Require(ctx, actor, rbac.PermTokenRead, nodeID); err != nil {
		return nil, err
	}

	tokens, err := s.store.ListByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	metadata := make([]*Token, len(tokens))
	for i, token := range tokens {
		metadata[i] = token.Metadata()
	}
	return metadata, nil
}

// IssueBootstrap mints the initial global admin token without an issuer
// identity. Only pkg/bootstrap calls this, exactly once per fresh install.
func (s *Service) IssueBootstrap(ctx context.Context) (string, *Token, error) {
	id, raw, salt, hash, err := s.gen.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &Token{
		ID:          id,
		Hash:        hash,
		Salt:        salt,
		Prefix:      DisplayPrefix(id),
		Kind:        KindGlobalAdmin,
		Permissions: []string{"*"},
		IssuedAt:    time.Now().UTC(),
		IssuedBy:    "bootstrap",
	}
	if err := s.store.Insert(ctx, token, ""); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(string(KindGlobalAdmin)).Inc()
	}

	return raw, token.Metadata(), nil
}
