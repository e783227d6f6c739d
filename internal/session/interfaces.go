// Package session implements the interactive import, preview, edit and commit
// workflow over a batch of colors.
package session

import (
	"context"
	"time"

	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
)

// RuleLookup resolves rules by ID. Unknown IDs must produce an error that matches
// common.ErrNotFound.
type RuleLookup interface {
	GetRule(ctx context.Context, id int) (*model.Rule, error)
}

// OutputSink receives the final rows of a committed session.
type OutputSink interface {
	// WriteColors stores the output and returns where it went (a path, a run ID).
	WriteColors(ctx context.Context, out Output) (string, error)
}

// Persister stores opaque session snapshots so a session can outlive the process
// that created it.
type Persister interface {
	SaveSession(ctx context.Context, s *Session) error
	// LoadSession returns an error matching common.ErrNotFound for unknown IDs.
	LoadSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]Summary, error)
}

// Output is what a commit hands to the OutputSink.
type Output struct {
	CommittedAt    time.Time           `json:"committed_at"`
	SessionID      string              `json:"session_id"`
	OwnerID        string              `json:"owner_id"`
	Source         string              `json:"source"`
	Rows           []model.RankedColor `json:"rows"`
	AppliedRuleIDs []int               `json:"applied_rule_ids"`
	Stats          ranking.Stats       `json:"stats"`
	DeletedCount   int                 `json:"deleted_count"`
}

// Snapshot is the frozen result of a commit.
type Snapshot struct {
	Location string `json:"location"`
	Output
}

// Summary describes a session without its rows.
type Summary struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	Source    string    `json:"source"`
	Status    Status    `json:"status"`
	Rows      int       `json:"rows_count"`
}
