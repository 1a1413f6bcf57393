package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/provisioning"
)

// Runner applies a seed against a live control plane. Every raw token a run
// mints is written to out exactly once; nothing stores the raw form.
type Runner struct {
	tokens       *auth.Service
	orchestrator *provisioning.Orchestrator
	auditLog     audit.Log
	logger       *observability.Logger
	out          io.Writer
}

// NewRunner creates a bootstrap runner writing minted tokens to out
func NewRunner(tokens *auth.Service, orchestrator *provisioning.Orchestrator, auditLog audit.Log, logger *observability.Logger, out io.Writer) *Runner {
	return &Runner{
		tokens:       tokens,
		orchestrator: orchestrator,
		auditLog:     auditLog,
		logger:       logger,
		out:          out,
	}
}

// bootstrapIdentity drives the in-process provisioning calls. The seed file
// is operator-controlled input applied before the API serves traffic, so it
// carries global admin authority by construction.
var bootstrapIdentity = &auth.Identity{
	Kind:        auth.KindGlobalAdmin,
	Permissions: []string{"*"},
}

// Run applies the seed: mint the initial global admin if asked and not yet
// done, then provision every declared org/team through the orchestrator.
// Deterministic idempotency keys make a re-run of the same file a no-op.
func (r *Runner) Run(ctx context.Context, seed *Seed) error {
	if seed.GlobalAdmin {
		if err := r.ensureGlobalAdmin(ctx); err != nil {
			return err
		}
	}

	for _, org := range seed.Orgs {
		for _, team := range org.Teams {
			if err := r.provisionTeam(ctx, org.Name, team); err != nil {
				return fmt.Errorf("failed to provision %s/%s: %w", org.Name, team.Name, err)
			}
		}
	}
	return nil
}

// ensureGlobalAdmin mints the initial global admin token on a fresh
// install. The audit trail is the source of truth for whether that already
// happened; the raw token itself is unrecoverable.
func (r *Runner) ensureGlobalAdmin(ctx context.Context) error {
	entries, err := r.auditLog.Query(ctx, audit.Filter{
		Actor:  "bootstrap",
		Action: audit.ActionTokenIssued,
		Limit:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to check bootstrap history: %w", err)
	}
	if len(entries) > 0 {
		r.logger.Debug("global admin already minted, skipping")
		return nil
	}

	raw, token, err := r.tokens.IssueBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to mint global admin token: %w", err)
	}
	r.logger.WithField("token_id", token.ID).Info("minted initial global admin token")
	fmt.Fprintf(r.out, "initial global admin token (shown once, store it now): %s\n", raw)
	return nil
}

func (r *Runner) provisionTeam(ctx context.Context, orgName string, team TeamSeed) error {
	result, err := r.orchestrator.Provision(ctx, bootstrapIdentity, provisioning.Request{
		IdempotencyKey:   idempotencyKey(orgName, team.Name),
		OrgName:          orgName,
		TeamName:         team.Name,
		InitialConfig:    team.Config,
		TokenPermissions: team.TokenPermissions,
	})
	if err != nil {
		return err
	}

	if result.Replayed {
		r.logger.WithFields(map[string]interface{}{
			"org":  orgName,
			"team": team.Name,
		}).Debug("already provisioned, skipping")
		return nil
	}

	r.logger.WithFields(map[string]interface{}{
		"org":     orgName,
		"team":    team.Name,
		"team_id": result.TeamNodeID,
	}).Info("provisioned team")
	if result.RawToken != "" {
		fmt.Fprintf(r.out, "token for %s/%s (shown once, store it now): %s\n", orgName, team.Name, result.RawToken)
	}
	return nil
}
