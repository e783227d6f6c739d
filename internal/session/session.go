package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/rules"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusOpen accepts deletes, rule applications, resets and the commit.
	StatusOpen Status = "open"
	// StatusCommitting means a commit has claimed the session and the sink may be
	// writing. Nothing else can change or commit it.
	StatusCommitting Status = "committing"
	// StatusCommitted means the output was written. Terminal.
	StatusCommitted Status = "committed"
	// StatusExpired means the session sat idle too long. Terminal.
	StatusExpired Status = "expired"
)

// Session is the working set of one import-preview-edit-commit cycle.
//
// Operations never modify a row slice in place: every change builds new slices and
// swaps them in, so slices handed out earlier stay valid.
type Session struct {
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CommittedAt    *time.Time          `json:"committed_at,omitempty"`
	ID             string              `json:"session_id"`
	OwnerID        string              `json:"owner_id"`
	Source         string              `json:"source"`
	Location       string              `json:"location,omitempty"`
	Status         Status              `json:"status"`
	Imported       []model.Color       `json:"imported"`
	Current        []model.RankedColor `json:"current"`
	AppliedRuleIDs []int               `json:"applied_rule_ids"`
	DeletedRowIDs  []string            `json:"deleted_row_ids"`
}

// ApplyOutcome is the result of applying rules to a session.
type ApplyOutcome struct {
	PerRuleExcluded map[int]int         `json:"per_rule_excluded"`
	Rows            []model.RankedColor `json:"rows"`
	ExcludedCount   int                 `json:"excluded_count"`
}

// New ranks the imported colors and returns an open session holding them. Every
// color needs a non-empty ID that is unique within the batch.
func New(id, ownerID, source string, imported []model.Color, now time.Time) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	seen := make(map[string]struct{}, len(imported))
	batch := make([]model.Color, len(imported))
	for i, c := range imported {
		if c.ID == "" {
			return nil, fmt.Errorf("color at index %d has no ID", i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: color ID %q appears more than once", common.ErrDuplicateEntry, c.ID)
		}
		seen[c.ID] = struct{}{}
		batch[i] = c.Clone()
	}

	return &Session{
		ID:             id,
		OwnerID:        ownerID,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusOpen,
		Imported:       batch,
		Current:        ranking.RankAndGroup(batch),
		AppliedRuleIDs: []int{},
		DeletedRowIDs:  []string{},
	}, nil
}

// DeleteRows removes the given row IDs from the working set and re-ranks what is
// left, so removing a parent promotes the next best color of its security. IDs that
// are unknown or already deleted are ignored.
func (s *Session) DeleteRows(ids []string, now time.Time) ([]model.RankedColor, error) {
	if err := s.requireOpen("delete rows"); err != nil {
		return nil, err
	}

	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	kept := make([]model.Color, 0, len(s.Current))
	var removed []string
	for _, r := range s.Current {
		if _, ok := remove[r.ID]; ok {
			removed = append(removed, r.ID)
			continue
		}
		kept = append(kept, r.Color)
	}

	s.Current = ranking.RankAndGroup(kept)
	s.DeletedRowIDs = unionStrings(s.DeletedRowIDs, removed)
	s.UpdatedAt = now

	slog.Debug("Deleted rows from session",
		"session_id", s.ID,
		"requested", len(ids),
		"deleted", len(removed),
		"remaining", len(s.Current))

	return s.Rows(), nil
}

// ApplyRules resolves the rule IDs and excludes every current row matched by any of
// them. Excluded rows join the deletion ledger. Re-applying a rule is harmless: the
// rows it matches are already gone. Nothing changes if any rule cannot be resolved.
func (s *Session) ApplyRules(ctx context.Context, ruleIDs []int, lookup RuleLookup, now time.Time) (ApplyOutcome, error) {
	if err := s.requireOpen("apply rules"); err != nil {
		return ApplyOutcome{}, err
	}
	if lookup == nil && len(ruleIDs) > 0 {
		return ApplyOutcome{}, fmt.Errorf("rule lookup is not configured")
	}

	resolved := make([]model.Rule, 0, len(ruleIDs))
	seen := make(map[int]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rule, err := lookup.GetRule(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return ApplyOutcome{}, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
			}
			return ApplyOutcome{}, fmt.Errorf("failed to resolve rule %d: %w", id, err)
		}
		if rule == nil {
			return ApplyOutcome{}, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		resolved = append(resolved, *rule)
	}

	result := rules.Apply(resolved, model.Colors(s.Current))

	excludedIDs := make([]string, len(result.Excluded))
	for i, c := range result.Excluded {
		excludedIDs[i] = c.ID
	}

	s.Current = ranking.RankAndGroup(result.Kept)
	s.DeletedRowIDs = unionStrings(s.DeletedRowIDs, excludedIDs)
	s.AppliedRuleIDs = unionInts(s.AppliedRuleIDs, ruleIDs)
	s.UpdatedAt = now

	slog.Info("Applied rules to session",
		"session_id", s.ID,
		"rules", len(resolved),
		"excluded", result.ExcludedCount,
		"remaining", len(s.Current))

	return ApplyOutcome{
		Rows:            s.Rows(),
		ExcludedCount:   result.ExcludedCount,
		PerRuleExcluded: result.PerRuleExcluded,
	}, nil
}

// Commit hands the current rows to the sink and closes the session. If the sink
// fails the session stays open and unchanged. A session commits at most once.
func (s *Session) Commit(ctx context.Context, sink OutputSink, now time.Time) (Snapshot, error) {
	if err := s.checkCommit(sink); err != nil {
		return Snapshot{}, err
	}
	return s.write(ctx, sink, now)
}

// claimCommit moves an open session to StatusCommitting.
func (s *Session) claimCommit(sink OutputSink, now time.Time) error {
	if err := s.checkCommit(sink); err != nil {
		return err
	}
	s.Status = StatusCommitting
	s.UpdatedAt = now
	return nil
}

func (s *Session) checkCommit(sink OutputSink) error {
	if err := s.requireOpen("commit"); err != nil {
		return err
	}
	if len(s.Current) == 0 {
		return fmt.Errorf("session %s: %w", s.ID, common.ErrNothingToSave)
	}
	if sink == nil {
		return fmt.Errorf("output sink is not configured")
	}
	return nil
}

// write hands the rows to the sink and marks the session committed. The caller
// has already checked that the session may commit.
func (s *Session) write(ctx context.Context, sink OutputSink, now time.Time) (Snapshot, error) {
	out := Output{
		SessionID:      s.ID,
		OwnerID:        s.OwnerID,
		Source:         s.Source,
		Rows:           s.Rows(),
		AppliedRuleIDs: append([]int(nil), s.AppliedRuleIDs...),
		DeletedCount:   len(s.DeletedRowIDs),
		Stats:          ranking.Summarize(s.Current),
		CommittedAt:    now,
	}

	location, err := sink.WriteColors(ctx, out)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to write committed colors: %w", err)
	}

	committedAt := now
	s.Status = StatusCommitted
	s.CommittedAt = &committedAt
	s.Location = location
	s.UpdatedAt = now

	slog.Info("Committed session",
		"session_id", s.ID,
		"rows", out.Stats.Total,
		"parents", out.Stats.Parents,
		"location", location)

	return Snapshot{Location: location, Output: out}, nil
}

// Reset restores the imported batch and clears both ledgers.
func (s *Session) Reset(now time.Time) ([]model.RankedColor, error) {
	if err := s.requireOpen("reset"); err != nil {
		return nil, err
	}

	s.Current = ranking.RankAndGroup(s.Imported)
	s.DeletedRowIDs = []string{}
	s.AppliedRuleIDs = []int{}
	s.UpdatedAt = now

	return s.Rows(), nil
}

// Expire closes an open session for inactivity and drops its rows.
func (s *Session) Expire(now time.Time) bool {
	if s.Status != StatusOpen {
		return false
	}
	s.Status = StatusExpired
	s.Imported = nil
	s.Current = nil
	s.UpdatedAt = now
	return true
}

// Rows returns a copy of the current working set.
func (s *Session) Rows() []model.RankedColor {
	out := make([]model.RankedColor, len(s.Current))
	for i, r := range s.Current {
		out[i] = r
		out[i].Color = r.Color.Clone()
	}
	return out
}

// Stats summarizes the current working set.
func (s *Session) Stats() ranking.Stats {
	return ranking.Summarize(s.Current)
}

// Summary describes the session without its rows.
func (s *Session) Summary() Summary {
	return Summary{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Source:    s.Source,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Rows:      len(s.Current),
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.CommittedAt != nil {
		t := *s.CommittedAt
		c.CommittedAt = &t
	}
	c.Imported = make([]model.Color, len(s.Imported))
	for i, col := range s.Imported {
		c.Imported[i] = col.Clone()
	}
	c.Current = s.Rows()
	c.AppliedRuleIDs = append([]int{}, s.AppliedRuleIDs...)
	c.DeletedRowIDs = append([]string{}, s.DeletedRowIDs...)
	return &c
}

func (s *Session) requireOpen(op string) error {
	if s.Status != StatusOpen {
		return fmt.Errorf("cannot %s: session %s is %s: %w", op, s.ID, s.Status, common.ErrInvalidState)
	}
	return nil
}

// unionStrings returns the sorted union of a and b.
func unionStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// unionInts returns the sorted union of a and b.
func unionInts(a, b []int) []int {
	set := make(map[int]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
