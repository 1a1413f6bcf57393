package audit

import (
	"context"
	"database/sql"
	"time"
)

// Action represents the category of mutation an entry records
type Action string

const (
	ActionConfigUpdate    Action = "config_update"
	ActionNodeCreated     Action = "node_created"
	ActionNodeDeactivated Action = "node_deactivated"
	ActionTokenIssued     Action = "token_issued"
	ActionTokenRevoked    Action = "token_revoked"
)

// Entry is a single immutable audit record. Before and After are populated
// for config_update entries; Metadata carries action-specific context such
// as the provisioning run key or the issued token prefix.
type Entry struct {
	ID        int64                  `json:"id"`
	NodeID    string                 `json:"node_id"`
	Actor     string                 `json:"actor"`
	Action    Action                 `json:"action"`
	Before    map[string]interface{} `json:"before,omitempty"`
	After     map[string]interface{} `json:"after,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Filter narrows a Query. Zero values are ignored; time bounds are
// inclusive from, exclusive to.
type Filter struct {
	NodeID string
	Actor  string
	Action Action
	From   time.Time
	To     time.Time
	Limit  int
}

// Querier is satisfied by *sql.DB and *sql.Tx, letting mutators append
// audit entries inside their own transactions so a failed append rolls the
// mutation back with it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Log is the append-only audit trail. There is deliberately no update or
// delete on this interface; retention is the janitor's data-lifecycle
// policy, applied through the concrete store's Sweep.
type Log interface {
	// Append writes one entry. When q is non-nil the write joins the
	// caller's transaction; a failed append must fail the caller's
	// mutation. Never fails silently.
	Append(ctx context.Context, q Querier, entry *Entry) error

	// Query returns entries matching the filter ordered by timestamp
	// ascending, entry ID breaking ties
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
}
