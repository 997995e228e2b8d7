// Package store provides RunStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/ledger-share/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	runs     map[string]engine.Run
	seq      map[string]int
	next     int
	policies map[string]engine.Seed
	order    []string
}

func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]engine.Run),
		seq:      make(map[string]int),
		policies: make(map[string]engine.Seed),
	}
}

// SaveRun stores run. Saving an id twice replaces nothing and fails.
func (m *Memory) SaveRun(_ context.Context, run engine.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrDuplicateRun
	}
	m.runs[run.ID] = run
	m.seq[run.ID] = m.next
	m.next++
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (engine.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return engine.Run{}, engine.ErrRunNotFound
	}
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]engine.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	// Newest first; insertion order breaks ties on equal timestamps.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// POLICIES
// =============================================================================

// SavePolicy stores seed, replacing a previous definition under the same key
// without changing its position.
func (m *Memory) SavePolicy(_ context.Context, seed engine.Seed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[seed.Key]; !ok {
		m.order = append(m.order, seed.Key)
	}
	m.policies[seed.Key] = seed
	return nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]engine.Seed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Seed, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.policies[key])
	}
	return out, nil
}

func (m *Memory) DeletePolicy(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[key]; !ok {
		return engine.ErrPolicyNotFound
	}
	delete(m.policies, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

var (
	_ engine.RunStore    = (*Memory)(nil)
	_ engine.PolicyStore = (*Memory)(nil)
)
