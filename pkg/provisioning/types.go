package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is a provisioning run's lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step names the orchestrator's ordered stages, recorded on the run row so
// a resumed run knows where the previous attempt stopped
const (
	StepEnsureOrg     = "ensure_org"
	StepCreateTeam    = "create_team"
	StepInitialConfig = "initial_config"
	StepInitialToken  = "initial_token"
	StepAuditEntry    = "audit_entry"
	StepReclaimed     = "reclaimed"
)

// ErrBusy is returned when the scope lock is held elsewhere and the run did
// not resolve within the wait budget. Retryable with the same key.
var ErrBusy = errors.New("provisioning in progress")

// FailedError is the terminal failure of a run, replayed to every retry
// with the same idempotency key
type FailedError struct {
	RunID  string
	Step   string
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("provisioning run %s failed at %s: %s", e.RunID, e.Step, e.Reason)
}

// Is lets errors.Is match any FailedError against ErrFailed
func (e *FailedError) Is(target error) bool {
	return target == ErrFailed
}

// ErrFailed is the errors.Is target for terminal run failures
var ErrFailed = errors.New("provisioning run failed")

// Request describes one idempotent provisioning operation: ensure an org
// exists, create a team under it, and seed the team's config and token.
type Request struct {
	// IdempotencyKey identifies the run; a second request with the same
	// key replays the stored outcome instead of re-executing
	IdempotencyKey string `json:"idempotency_key"`

	// OrgID targets an existing organization; empty means create one
	// named OrgName (global admin only)
	OrgID   string `json:"org_id,omitempty"`
	OrgName string `json:"org_name,omitempty"`

	// TeamParentID is the node the team attaches to; empty means directly
	// under the org
	TeamParentID string `json:"team_parent_id,omitempty"`
	TeamName     string `json:"team_name"`

	// InitialConfig seeds the team's configuration fragment; nil writes
	// an empty version so the node always has a config history
	InitialConfig map[string]interface{} `json:"initial_config,omitempty"`

	// TokenPermissions for the team's initial token
	TokenPermissions []string `json:"token_permissions,omitempty"`
}

// Result is the stored outcome of a completed run. RawToken rides only on
// the response of the execution that minted it; it is never persisted.
type Result struct {
	OrgNodeID     string `json:"org_node_id"`
	TeamNodeID    string `json:"team_node_id"`
	ConfigVersion int    `json:"config_version"`
	TokenID       string `json:"token_id"`
	TokenPrefix   string `json:"token_prefix"`
	RawToken      string `json:"raw_token,omitempty"`
	Replayed      bool   `json:"replayed"`
}

// Run is the persisted state of one provisioning operation. Progress
// columns record each completed step so a crashed run resumes instead of
// duplicating side effects.
type Run struct {
	IdempotencyKey string     `json:"idempotency_key"`
	Status         Status     `json:"status"`
	OrgNodeID      string     `json:"org_node_id,omitempty"`
	TeamNodeID     string     `json:"team_node_id,omitempty"`
	ConfigVersion  int        `json:"config_version,omitempty"`
	TokenID        string     `json:"token_id,omitempty"`
	TokenPrefix    string     `json:"token_prefix,omitempty"`
	FailedStep     string     `json:"failed_step,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Result converts a terminal run's stored columns into the replayed result
func (r *Run) Result() *Result {
	return &Result{
		OrgNodeID:     r.OrgNodeID,
		TeamNodeID:    r.TeamNodeID,
		ConfigVersion: r.ConfigVersion,
		TokenID:       r.TokenID,
		TokenPrefix:   r.TokenPrefix,
		Replayed:      true,
	}
}

// RunStore persists provisioning runs
type RunStore interface {
	// InsertOrFetch inserts a pending run for the key if none exists and
	// returns the stored run either way, reporting whether this call
	// created it
	InsertOrFetch(ctx context.Context, key string) (*Run, bool, error)

	// Get returns the run for a key, or nil when absent
	Get(ctx context.Context, key string) (*Run, error)

	// RecordProgress persists step outputs on a pending run
	RecordProgress(ctx context.Context, run *Run) error

	// MarkCompleted transitions a run to completed with its result columns
	MarkCompleted(ctx context.Context, run *Run) error

	// MarkFailed transitions a run to failed with the step and reason
	MarkFailed(ctx context.Context, key, step, reason string) error

	// ReclaimStuck marks runs pending longer than cutoff as failed with
	// step "reclaimed", returning how many were reclaimed
	ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error)
}
