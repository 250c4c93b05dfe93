package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
)

// Memory is an in-process Repository for the CLI, tests and single-node use
type Memory struct {
	mu    sync.RWMutex
	turns map[model.UserID][]*model.Turn
	last  time.Time

	clock            func() time.Time
	indexUnavailable bool
	beforeArchive    func()
	metrics          *observability.Metrics
}

var _ Repository = (*Memory)(nil)

type MemoryOption func(*Memory)

// WithClock replaces time.Now for server timestamps
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.clock = clock
	}
}

// WithIndexUnavailable makes the optimal read path fail as a backend without
// the composite index would.
func WithIndexUnavailable(unavailable bool) MemoryOption {
	return func(m *Memory) {
		m.indexUnavailable = unavailable
	}
}

// WithBeforeArchiveCommit runs fn between the archive snapshot and its commit
func WithBeforeArchiveCommit(fn func()) MemoryOption {
	return func(m *Memory) {
		m.beforeArchive = fn
	}
}

func WithMemoryMetrics(metrics *observability.Metrics) MemoryOption {
	return func(m *Memory) {
		m.metrics = metrics
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		turns: make(map[model.UserID][]*model.Turn),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Append(ctx context.Context, userID model.UserID, turn *model.Turn) (model.TurnID, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if err := validateTurn(turn); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// timestamps are assigned under the lock and never go backwards
	now := m.clock().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now

	stored := *turn
	if stored.ID == "" {
		stored.ID = model.NewTurnID()
	}
	for _, t := range m.turns[userID] {
		if t.ID == stored.ID {
			return "", goerr.Wrap(ErrStoreWrite, "turn already exists", goerr.V("turn_id", stored.ID))
		}
	}
	stored.CreatedAt = now
	stored.Archived = false
	m.turns[userID] = append(m.turns[userID], &stored)

	return stored.ID, nil
}

func (m *Memory) ReadVisible(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	return withFallback(ctx, m.metrics, "read_visible",
		func(ctx context.Context) ([]*model.Turn, error) {
			if m.indexUnavailable {
				return nil, goerr.Wrap(ErrIndexUnavailable, "composite index is not built", goerr.V("user_id", userID))
			}
			m.mu.RLock()
			defer m.mu.RUnlock()
			var visible []*model.Turn
			for _, t := range m.turns[userID] {
				if !t.Archived {
					c := *t
					visible = append(visible, &c)
				}
			}
			sortTurns(visible)
			return nonNil(visible), nil
		},
		func(ctx context.Context) ([]*model.Turn, error) {
			all, err := m.ReadAll(ctx, userID)
			if err != nil {
				return nil, err
			}
			return filterVisible(all), nil
		},
	)
}

func (m *Memory) ReadAll(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*model.Turn, 0, len(m.turns[userID]))
	for _, t := range m.turns[userID] {
		c := *t
		all = append(all, &c)
	}
	sortTurns(all)
	return all, nil
}

func (m *Memory) ArchiveAll(ctx context.Context, userID model.UserID) (int, error) {
	snapshot, err := m.ReadVisible(ctx, userID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to snapshot visible turns", goerr.V("user_id", userID))
	}
	if len(snapshot) == 0 {
		return 0, nil
	}
	if m.beforeArchive != nil {
		m.beforeArchive()
	}

	ids := make(map[model.TurnID]struct{}, len(snapshot))
	for _, t := range snapshot {
		ids[t.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	archived := 0
	for _, t := range m.turns[userID] {
		if _, ok := ids[t.ID]; ok && !t.Archived {
			t.Archived = true
			archived++
		}
	}
	return archived, nil
}

func (m *Memory) HasVisibleHistory(ctx context.Context, userID model.UserID) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	return withFallback(ctx, m.metrics, "has_visible",
		func(ctx context.Context) (bool, error) {
			if m.indexUnavailable {
				return false, goerr.Wrap(ErrIndexUnavailable, "composite index is not built", goerr.V("user_id", userID))
			}
			m.mu.RLock()
			defer m.mu.RUnlock()
			for _, t := range m.turns[userID] {
				if !t.Archived {
					return true, nil
				}
			}
			return false, nil
		},
		func(ctx context.Context) (bool, error) {
			all, err := m.ReadAll(ctx, userID)
			if err != nil {
				return false, err
			}
			return len(filterVisible(all)) > 0, nil
		},
	)
}

func sortTurns(turns []*model.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}

func nonNil(turns []*model.Turn) []*model.Turn {
	if turns == nil {
		return []*model.Turn{}
	}
	return turns
}
