package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// defaultTokenPermissions seed a provisioned team's first token when the
// request names none
var defaultTokenPermissions = []string{"config:read", "config:write"}

// EventSink receives provisioning outcome notifications. Delivery is
// best-effort and must not block.
type EventSink interface {
	Emit(ctx context.Context, event string, data map[string]interface{})
}

// Config controls orchestrator timing
type Config struct {
	// WaitBudget bounds how long a caller waits on a run another holder
	// is executing before getting ErrBusy
	WaitBudget time.Duration
	// PollInterval is how often a waiting caller re-reads the run row
	PollInterval time.Duration
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		WaitBudget:   10 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Orchestrator executes idempotent provisioning runs: ensure an org node,
// create a team under it, seed the team's configuration and first token,
// and record the whole operation in the audit log. Runs are keyed by
// idempotency key; repeating a key replays the stored outcome.
type Orchestrator struct {
	runs     RunStore
	locks    LockManager
	tree     orgtree.Store
	configs  nodeconfig.Store
	tokens   *auth.Service
	log      audit.Log
	enforcer *rbac.Enforcer
	events   EventSink
	metrics  *observability.Metrics
	logger   *observability.Logger
	config   *Config
}

// NewOrchestrator creates a new provisioning orchestrator. events may be
// nil; a nil config uses defaults.
func NewOrchestrator(
	runs RunStore,
	locks LockManager,
	tree orgtree.Store,
	configs nodeconfig.Store,
	tokens *auth.Service,
	log audit.Log,
	enforcer *rbac.Enforcer,
	events EventSink,
	metrics *observability.Metrics,
	logger *observability.Logger,
	config *Config,
) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Orchestrator{
		runs:     runs,
		locks:    locks,
		tree:     tree,
		configs:  configs,
		tokens:   tokens,
		log:      log,
		enforcer: enforcer,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Provision executes one provisioning request. A repeated idempotency key
// replays the stored outcome; a key whose run is mid-flight elsewhere waits
// up to the budget, then returns ErrBusy. The raw token rides only on the
// response of the execution that minted it.
func (o *Orchestrator) Provision(ctx context.Context, actor rbac.Identity, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "provisioning.Provision")
	defer span.End()

	if err := o.validate(req); err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, actor, req); err != nil {
		return nil, err
	}

	run, created, err := o.runs.InsertOrFetch(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if !created {
		if result, terminal := o.replay(run); terminal {
			return result, o.terminalError(run)
		}
	}

	lockKey := scopeLockKey(req)
	lockStart := time.Now()
	lock, acquired, err := o.locks.TryAcquire(ctx, lockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire scope lock: %w", err)
	}
	if !acquired {
		// Someone else is executing this scope; wait on the run row
		return o.awaitRun(ctx, req.IdempotencyKey)
	}
	defer lock.Release()
	if o.metrics != nil {
		o.metrics.ProvisioningLockWait.Observe(time.Since(lockStart).Seconds())
	}

	// The run may have resolved between the insert and the lock
	run, err = o.runs.Get(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s vanished", req.IdempotencyKey)
	}
	if result, terminal := o.replay(run); terminal {
		return result, o.terminalError(run)
	}

	return o.execute(ctx, actor, req, run)
}

// GetRun returns the stored run for an idempotency key, or nil when no run
// exists. Visibility mirrors the write path: global admins see every run,
// others need admin:provision at-or-above the run's org node. A pending run
// that has not resolved its org yet is visible to global admins only.
func (o *Orchestrator) GetRun(ctx context.Context, actor rbac.Identity, key string) (*Run, error) {
	ctx, span := tracer.Start(ctx, "provisioning.GetRun")
	defer span.End()

	run, err := o.runs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	if run == nil {
		return nil, nil
	}
	if actor != nil && actor.IsGlobalAdmin() {
		return run, nil
	}
	if run.OrgNodeID == "" {
		return nil, fmt.Errorf("%w: run has no resolved organization", rbac.ErrDenied)
	}
	if err := o.enforcer.Require(ctx, actor, rbac.PermAdminProvision, run.OrgNodeID); err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) validate(req Request) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if req.TeamName == "" {
		return fmt.Errorf("team name is required")
	}
	if req.OrgID == "" && req.OrgName == "" {
		return fmt.Errorf("either org_id or org_name is required")
	}
	return nil
}

// authorize gates on the target org: global admins provision anything,
// admin:provision at-or-above an existing org suffices, and creating a
// brand-new org requires global admin.
func (o *Orchestrator) authorize(ctx context.Context, actor rbac.Identity, req Request) error {
	if actor != nil && actor.IsGlobalAdmin() {
		return nil
	}
	if req.OrgID == "" {
		return fmt.Errorf("%w: creating a new organization requires global admin", rbac.ErrDenied)
	}
	return o.enforcer.Require(ctx, actor, rbac.PermAdminProvision, req.OrgID)
}

// replay converts a terminal run into its stored outcome
func (o *Orchestrator) replay(run *Run) (*Result, bool) {
	switch run.Status {
	case StatusCompleted:
		if o.metrics != nil {
			o.metrics.ProvisioningRunsTotal.WithLabelValues("replayed").Inc()
		}
		return run.Result(), true
	case StatusFailed:
		return nil, true
	default:
		return nil, false
	}
}

func (o *Orchestrator) terminalError(run *Run) error {
	if run.Status == StatusFailed {
		return &FailedError{
			RunID:  run.IdempotencyKey,
			Step:   run.FailedStep,
			Reason: run.FailureReason,
		}
	}
	return nil
}

// awaitRun polls a run another holder is executing until it resolves or
// the wait budget elapses
func (o *Orchestrator) awaitRun(ctx context.Context, key string) (*Result, error) {
	deadline := time.NewTimer(o.config.WaitBudget)
	defer deadline.Stop()
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if o.metrics != nil {
				o.metrics.ProvisioningBusyTotal.Inc()
			}
			return nil, fmt.Errorf("%w: scope lock held for run %s", ErrBusy, key)
		case <-ticker.C:
			run, err := o.runs.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to poll run: %w", err)
			}
			if run == nil {
				return nil, fmt.Errorf("run %s vanished", key)
			}
			if result, terminal := o.replay(run); terminal {
				return result, o.terminalError(run)
			}
		}
	}
}

// execute runs the provisioning steps in order, recording progress on the
// run row after each so a crashed run resumes where it stopped
func (o *Orchestrator) execute(ctx context.Context, actor rbac.Identity, req Request, run *Run) (*Result, error) {
	start := time.Now()
	actorRef := actor.ActorRef()
	logger := o.logger
	if logger != nil {
		logger = logger.WithFields(map[string]interface{}{
			"run":  req.IdempotencyKey,
			"team": req.TeamName,
		})
	}

	fail := func(step string, err error) (*Result, error) {
		if markErr := o.runs.MarkFailed(ctx, req.IdempotencyKey, step, err.Error()); markErr != nil && logger != nil {
			logger.WithError(markErr).Errorf("failed to persist run failure")
		}
		if o.metrics != nil {
			o.metrics.ProvisioningRunsTotal.WithLabelValues("failed").Inc()
		}
		o.emit(ctx, "provisioning.failed", map[string]interface{}{
			"idempotency_key": req.IdempotencyKey,
			"failed_step":     step,
			"reason":          err.Error(),
		})
		return nil, &FailedError{RunID: req.IdempotencyKey, Step: step, Reason: err.Error()}
	}

	// Step 1: ensure the org node
	if run.OrgNodeID == "" {
		org, err := o.ensureOrg(ctx, req)
		if err != nil {
			return fail(StepEnsureOrg, err)
		}
		run.OrgNodeID = org.ID
		if err := o.runs.RecordProgress(ctx, run); err != nil {
			return fail(StepEnsureOrg, err)
		}
	}

	// Step 2: create the team node
	teamCreated := false
	if run.TeamNodeID == "" {
		team, created, err := o.ensureTeam(ctx, req, run.OrgNodeID)
		if err != nil {
			return fail(StepCreateTeam, err)
		}
		teamCreated = created
		run.TeamNodeID = team.ID
		if err := o.runs.RecordProgress(ctx, run); err != nil {
			return fail(StepCreateTeam, err)
		}
	}

	// Step 3: seed the team's configuration
	if run.ConfigVersion == 0 {
		version, err := o.ensureConfig(ctx, run.TeamNodeID, req.InitialConfig, actorRef)
		if err != nil {
			return fail(StepInitialConfig, err)
		}
		run.ConfigVersion = version
		if err := o.runs.RecordProgress(ctx, run); err != nil {
			return fail(StepInitialConfig, err)
		}
	}

	// Step 4: mint the team's first token
	rawToken := ""
	if run.TokenID == "" {
		permissions := req.TokenPermissions
		if len(permissions) == 0 {
			permissions = defaultTokenPermissions
		}
		raw, token, err := o.tokens.Issue(ctx, actor, auth.IssueRequest{
			Kind:        auth.KindTeam,
			OrgID:       run.OrgNodeID,
			TeamID:      run.TeamNodeID,
			Permissions: permissions,
		})
		if err != nil {
			return fail(StepInitialToken, err)
		}
		rawToken = raw
		run.TokenID = token.ID
		run.TokenPrefix = token.Prefix
		if err := o.runs.RecordProgress(ctx, run); err != nil {
			return fail(StepInitialToken, err)
		}
	}

	// Step 5: record the node creation in the audit trail, once
	if err := o.ensureAuditEntry(ctx, req, run, actorRef, teamCreated); err != nil {
		return fail(StepAuditEntry, err)
	}

	if err := o.runs.MarkCompleted(ctx, run); err != nil {
		return fail("mark_completed", err)
	}

	if o.metrics != nil {
		o.metrics.ProvisioningRunsTotal.WithLabelValues("completed").Inc()
		o.metrics.ProvisioningDuration.Observe(time.Since(start).Seconds())
	}
	if logger != nil {
		logger.WithField("team_node_id", run.TeamNodeID).Infof("provisioning run completed")
	}
	o.emit(ctx, "provisioning.completed", map[string]interface{}{
		"idempotency_key": req.IdempotencyKey,
		"org_node_id":     run.OrgNodeID,
		"team_node_id":    run.TeamNodeID,
	})

	result := run.Result()
	result.Replayed = false
	result.RawToken = rawToken
	return result, nil
}

// ensureOrg resolves the target org: an explicit ID must exist and be an
// organization; a name is looked up and created only when absent
func (o *Orchestrator) ensureOrg(ctx context.Context, req Request) (*orgtree.Node, error) {
	if req.OrgID != "" {
		org, err := o.tree.GetNode(ctx, req.OrgID)
		if err != nil {
			return nil, err
		}
		if org.Kind != orgtree.KindOrganization {
			return nil, fmt.Errorf("%w: %s is not an organization", orgtree.ErrInvalidHierarchy, req.OrgID)
		}
		return org, nil
	}

	org, err := o.tree.FindRoot(ctx, req.OrgName)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, orgtree.ErrNotFound) {
		return nil, err
	}
	return o.tree.CreateNode(ctx, nil, orgtree.KindOrganization, req.OrgName)
}

// ensureTeam creates the team under its parent unless an identical one
// already exists from a previous attempt
func (o *Orchestrator) ensureTeam(ctx context.Context, req Request, orgID string) (*orgtree.Node, bool, error) {
	parentID := req.TeamParentID
	if parentID == "" {
		parentID = orgID
	} else {
		// The parent must sit inside the target org
		parent, err := o.tree.GetNode(ctx, parentID)
		if err != nil {
			return nil, false, err
		}
		if !parent.IsAncestorOrSelf(orgID) {
			return nil, false, fmt.Errorf("%w: parent %s is not inside org %s", orgtree.ErrInvalidHierarchy, parentID, orgID)
		}
	}

	team, err := o.tree.FindChild(ctx, parentID, orgtree.KindTeam, req.TeamName)
	if err == nil {
		return team, false, nil
	}
	if !errors.Is(err, orgtree.ErrNotFound) {
		return nil, false, err
	}

	team, err = o.tree.CreateNode(ctx, &parentID, orgtree.KindTeam, req.TeamName)
	if err != nil {
		return nil, false, err
	}
	return team, true, nil
}

// ensureConfig writes the initial configuration unless the node already
// has one from a previous attempt
func (o *Orchestrator) ensureConfig(ctx context.Context, teamID string, payload map[string]interface{}, actorRef string) (int, error) {
	current, err := o.configs.GetCurrent(ctx, teamID)
	if err == nil {
		return current.Version, nil
	}
	if !errors.Is(err, nodeconfig.ErrNotFound) {
		return 0, err
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	cfg, err := o.configs.Update(ctx, teamID, payload, actorRef, contextkeys.GetRequestID(ctx))
	if err != nil {
		return 0, err
	}
	return cfg.Version, nil
}

// ensureAuditEntry appends the node_created entry exactly once per team
func (o *Orchestrator) ensureAuditEntry(ctx context.Context, req Request, run *Run, actorRef string, teamCreated bool) error {
	existing, err := o.log.Query(ctx, audit.Filter{
		NodeID: run.TeamNodeID,
		Action: audit.ActionNodeCreated,
		Limit:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to check audit trail: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	entry := &audit.Entry{
		NodeID: run.TeamNodeID,
		Actor:  actorRef,
		Action: audit.ActionNodeCreated,
		Metadata: map[string]interface{}{
			"idempotency_key": req.IdempotencyKey,
			"org_node_id":     run.OrgNodeID,
			"team_name":       req.TeamName,
		},
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if err := o.log.Append(ctx, nil, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if teamCreated {
		o.emit(ctx, "node.created", map[string]interface{}{
			"node_id":   run.TeamNodeID,
			"parent_id": run.OrgNodeID,
			"name":      req.TeamName,
		})
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, event string, data map[string]interface{}) {
	if o.events != nil {
		o.events.Emit(ctx, event, data)
	}
}

// scopeLockKey derives the exclusive lock key for a request's target scope
func scopeLockKey(req Request) string {
	org := req.OrgID
	if org == "" {
		org = "name:" + req.OrgName
	}
	return fmt.Sprintf("provision:%s:%s:%s", org, req.TeamParentID, req.TeamName)
}
