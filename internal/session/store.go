package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
)

const (
	// DefaultTTL is how long an open session may sit idle before it expires.
	DefaultTTL = 30 * time.Minute
	// DefaultRetention is how long committed and expired sessions are kept around.
	DefaultRetention = 24 * time.Hour
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	Rules     RuleLookup
	Sink      OutputSink
	Persister Persister // Optional write-through snapshot storage
	Now       func() time.Time
	NewID     func() string
	TTL       time.Duration
	Retention time.Duration
}

// Store owns the processing sessions of a process. Operations on the same session
// are serialized; operations on different sessions only share the map lookup.
type Store struct {
	opts     Options
	entries  map[string]*entry
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopOnce sync.Once
}

type entry struct {
	session *Session // nil once the entry has been removed
	mu      sync.Mutex
}

// NewStore creates a session store.
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	return &Store{
		opts:    opts,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
}

// Create starts a new open session over the imported colors.
func (s *Store) Create(ctx context.Context, ownerID, source string, rows []model.Color) (*Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	sess, err := New(s.opts.NewID(), ownerID, source, rows, s.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sess.ID]; exists {
		return nil, fmt.Errorf("%w: session %s already exists", common.ErrDuplicateEntry, sess.ID)
	}
	s.entries[sess.ID] = &entry{session: sess}

	slog.Info("Created session",
		"session_id", sess.ID,
		"owner", ownerID,
		"source", source,
		"rows", len(rows))

	return sess.Clone(), nil
}

// Get returns a copy of the session. Committed and expired sessions are still
// returned until they are purged.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var out *Session
	err := s.withEntry(ctx, id, func(e *entry) error {
		out = e.session.Clone()
		return nil
	})
	return out, err
}

// List returns summaries of all known sessions, newest first. An empty owner lists
// every owner's sessions.
func (s *Store) List(ctx context.Context, ownerID string) ([]Summary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	byID := make(map[string]Summary)
	if s.opts.Persister != nil {
		persisted, err := s.opts.Persister.ListSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list persisted sessions: %w", err)
		}
		for _, sum := range persisted {
			byID[sum.ID] = sum
		}
	}

	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		if e.session != nil {
			byID[e.session.ID] = e.session.Summary()
		}
		e.mu.Unlock()
	}

	out := make([]Summary, 0, len(byID))
	for _, sum := range byID {
		if ownerID != "" && sum.OwnerID != ownerID {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// DeleteRows removes rows from an open session.
func (s *Store) DeleteRows(ctx context.Context, id string, rowIDs []string) ([]model.RankedColor, error) {
	var rows []model.RankedColor
	err := s.mutate(ctx, id, func(sess *Session) error {
		var err error
		rows, err = sess.DeleteRows(rowIDs, s.opts.Now())
		return err
	})
	return rows, err
}

// ApplyRules applies stored rules to an open session.
func (s *Store) ApplyRules(ctx context.Context, id string, ruleIDs []int) (ApplyOutcome, error) {
	var outcome ApplyOutcome
	err := s.mutate(ctx, id, func(sess *Session) error {
		var err error
		outcome, err = sess.ApplyRules(ctx, ruleIDs, s.opts.Rules, s.opts.Now())
		return err
	})
	return outcome, err
}

// Reset restores the imported rows of an open session.
func (s *Store) Reset(ctx context.Context, id string) ([]model.RankedColor, error) {
	var rows []model.RankedColor
	err := s.mutate(ctx, id, func(sess *Session) error {
		var err error
		rows, err = sess.Reset(s.opts.Now())
		return err
	})
	return rows, err
}

// Commit writes the session's rows to the configured sink and closes the session.
//
// The session is saved as committing before the sink runs, so no other store
// sharing the persister can commit it while the sink writes or if the final save
// fails. Once the sink has accepted the rows the session is committed even if
// that final save fails; the failure is only logged.
func (s *Store) Commit(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	err := s.withEntry(ctx, id, func(e *entry) error {
		prev := e.session
		claimed := prev.Clone()
		if err := claimed.claimCommit(s.opts.Sink, s.opts.Now()); err != nil {
			return err
		}
		if err := s.persist(ctx, claimed); err != nil {
			return fmt.Errorf("failed to claim session for commit: %w", err)
		}
		e.session = claimed

		work := claimed.Clone()
		var err error
		snap, err = work.write(ctx, s.opts.Sink, s.opts.Now())
		if err != nil {
			e.session = prev
			if perr := s.persist(ctx, prev); perr != nil {
				common.LogError(perr, "Failed to reopen session after failed commit", common.Fields{
					"session_id": id,
				})
			}
			return err
		}

		e.session = work
		if perr := s.persist(ctx, work); perr != nil {
			common.LogError(perr, "Failed to persist committed session", common.Fields{
				"session_id": id,
				"location":   snap.Location,
			})
		}
		return nil
	})
	return snap, err
}

// Close drops a session from memory and from the persister.
func (s *Store) Close(ctx context.Context, id string) error {
	return s.withEntry(ctx, id, func(e *entry) error {
		if s.opts.Persister != nil {
			if err := s.opts.Persister.DeleteSession(ctx, id); err != nil && !errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("failed to delete persisted session: %w", err)
			}
		}
		s.remove(id, e)
		slog.Info("Closed session", "session_id", id)
		return nil
	})
}

// ExpireIdle expires open sessions that have been idle longer than the TTL and
// purges terminal sessions older than the retention window. It returns how many
// sessions were expired and purged.
func (s *Store) ExpireIdle(ctx context.Context, now time.Time) (expired, purged int) {
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		sess := e.session
		if sess == nil {
			e.mu.Unlock()
			continue
		}

		switch {
		case sess.Status == StatusOpen && now.Sub(sess.UpdatedAt) > s.opts.TTL:
			work := sess.Clone()
			work.Expire(now)
			e.session = work
			expired++
			if err := s.persist(ctx, work); err != nil {
				slog.Warn("Failed to persist expired session", "session_id", work.ID, "error", err)
			}
		case sess.Status != StatusOpen && now.Sub(sess.UpdatedAt) > s.opts.Retention:
			if s.opts.Persister != nil {
				if err := s.opts.Persister.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
					slog.Warn("Failed to delete purged session", "session_id", sess.ID, "error", err)
				}
			}
			s.remove(sess.ID, e)
			purged++
		}
		e.mu.Unlock()
	}

	if expired > 0 || purged > 0 {
		slog.Info("Cleaned up sessions", "expired", expired, "purged", purged)
	}

	return expired, purged
}

// LoadAll pulls every persisted session into memory so ExpireIdle can see them. It
// returns the number of sessions loaded.
func (s *Store) LoadAll(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if s.opts.Persister == nil {
		return 0, nil
	}

	summaries, err := s.opts.Persister.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	loaded := 0
	for _, sum := range summaries {
		if _, err := s.lookup(ctx, sum.ID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// StartJanitor runs ExpireIdle every interval until the context is done or Stop is
// called.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go s.cleanupLoop(ctx, interval)
}

// Stop halts the janitor. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ExpireIdle(ctx, s.opts.Now())
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// mutate runs fn against a copy of an open session and swaps the copy in only when
// fn and the write-through both succeed.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Session) error) error {
	return s.withEntry(ctx, id, func(e *entry) error {
		work := e.session.Clone()
		if err := fn(work); err != nil {
			return err
		}
		if err := s.persist(ctx, work); err != nil {
			return err
		}
		e.session = work
		return nil
	})
}

// withEntry locks the session's entry, loading it from the persister on a miss and
// expiring it first if it sat idle past the TTL.
func (s *Store) withEntry(ctx context.Context, id string, fn func(*entry) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("session ID is required")
	}

	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}

	now := s.opts.Now()
	if e.session.Status == StatusOpen && now.Sub(e.session.UpdatedAt) > s.opts.TTL {
		work := e.session.Clone()
		work.Expire(now)
		e.session = work
		if err := s.persist(ctx, work); err != nil {
			slog.Warn("Failed to persist expired session", "session_id", id, "error", err)
		}
		slog.Info("Session expired after inactivity", "session_id", id)
	}

	return fn(e)
}

func (s *Store) lookup(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	if s.opts.Persister == nil {
		return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}

	loaded, err := s.opts.Persister.LoadSession(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have loaded it first.
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	e = &entry{session: loaded}
	s.entries[id] = e
	return e, nil
}

// remove must be called with e.mu held.
func (s *Store) remove(id string, e *entry) {
	e.session = nil
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

func (s *Store) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Store) persist(ctx context.Context, sess *Session) error {
	if s.opts.Persister == nil {
		return nil
	}
	if err := s.opts.Persister.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}
	return nil
}

// validateContext checks if the context is valid and not canceled.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
