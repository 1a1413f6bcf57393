package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resource represents a resource type in the control plane
type Resource string

const (
	ResourceConfig  Resource = "config"
	ResourceToken   Resource = "token"
	ResourceAudit   Resource = "audit"
	ResourceAdmin   Resource = "admin"
	ResourceNode    Resource = "node"
	ResourceWebhook Resource = "webhook"

	// ResourceAny is the wildcard resource
	ResourceAny Resource = "*"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionRevoke     Action = "revoke"
	ActionProvision  Action = "provision"
	ActionDeactivate Action = "deactivate"
	ActionManage     Action = "manage"

	// ActionAny is the wildcard action
	ActionAny Action = "*"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// The closed set of permissions the control plane checks. Wildcard forms
// (admin:*, *) are grants, not checkable targets.
var (
	PermConfigRead     = Permission{ResourceConfig, ActionRead}
	PermConfigWrite    = Permission{ResourceConfig, ActionWrite}
	PermTokenRead      = Permission{ResourceToken, ActionRead}
	PermTokenRevoke    = Permission{ResourceToken, ActionRevoke}
	PermAuditRead      = Permission{ResourceAudit, ActionRead}
	PermAdminProvision = Permission{ResourceAdmin, ActionProvision}
	PermNodeDeactivate = Permission{ResourceNode, ActionDeactivate}
	PermWebhookManage  = Permission{ResourceWebhook, ActionManage}
)

// KnownPermissions lists every permission the control plane checks
var KnownPermissions = []Permission{
	PermConfigRead,
	PermConfigWrite,
	PermTokenRead,
	PermTokenRevoke,
	PermAuditRead,
	PermAdminProvision,
	PermNodeDeactivate,
	PermWebhookManage,
}

// String returns the resource:action form of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Covers reports whether this permission grants the other. A wildcard action
// covers any action on the same resource (admin:* covers admin:provision)
// and the bare wildcard resource covers everything.
func (p Permission) Covers(other Permission) bool {
	if p.Resource == ResourceAny {
		return true
	}
	if p.Resource != other.Resource {
		return false
	}
	return p.Action == ActionAny || p.Action == other.Action
}

// ParsePermission parses a resource:action string. The bare wildcard "*"
// parses to the permission covering everything.
func ParsePermission(s string) (Permission, error) {
	if s == "*" {
		return Permission{Resource: ResourceAny, Action: ActionAny}, nil
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("invalid permission %q: want resource:action", s)
	}

	return Permission{Resource: Resource(parts[0]), Action: Action(parts[1])}, nil
}

// HoldsPermission reports whether any permission in the held set covers the
// required one. Malformed held entries are skipped, never treated as grants.
func HoldsPermission(held []string, required Permission) bool {
	for _, h := range held {
		p, err := ParsePermission(h)
		if err != nil {
			continue
		}
		if p.Covers(required) {
			return true
		}
	}
	return false
}

// ErrDenied is returned when an identity is not authorized for an operation
var ErrDenied = errors.New("permission denied")

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Identity is the authenticated principal an authorization check runs
// against. pkg/auth's Identity satisfies it; rbac depends only on this
// surface so the token authority can in turn gate itself with the enforcer.
type Identity interface {
	// IsGlobalAdmin reports whether the identity bypasses scope checks and
	// implicitly holds every permission
	IsGlobalAdmin() bool

	// ScopeNodeID returns the org tree node the identity is scoped to:
	// team node for team tokens, org node for org admins, empty for global
	ScopeNodeID() string

	// HeldPermissions returns the identity's permission strings
	HeldPermissions() []string

	// ActorRef returns the stable reference recorded in audit entries,
	// e.g. "token:<id>" or "bootstrap"
	ActorRef() string
}
