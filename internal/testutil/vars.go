package testutil

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/roach88/rollout/internal/store"
)

// MemoryVars is an in-memory store.Vars for tests. Err, when set, is
// returned by every call. Gets counts VarGet calls.
type MemoryVars struct {
	mu   sync.Mutex
	data map[string]string
	Err  error
	Gets atomic.Int64
}

var _ store.Vars = (*MemoryVars)(nil)

// NewMemoryVars creates an empty MemoryVars.
func NewMemoryVars() *MemoryVars {
	return &MemoryVars{data: make(map[string]string)}
}

// VarGet implements store.Vars.
func (m *MemoryVars) VarGet(_ context.Context, key string) (string, bool, error) {
	m.Gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// VarSet implements store.Vars.
func (m *MemoryVars) VarSet(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data[key] = value
	return nil
}

// VarAdd implements store.Vars.
func (m *MemoryVars) VarAdd(_ context.Context, key, value string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	list := []string{}
	if raw, ok := m.data[key]; ok {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, err
		}
	}
	list = append(list, value)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	data, _ := json.Marshal(list)
	m.data[key] = string(data)
	return list, nil
}

// VarInc implements store.Vars.
func (m *MemoryVars) VarInc(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var cur int64
	if raw, ok := m.data[key]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	cur += delta
	m.data[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// Snapshot returns a copy of all stored values.
func (m *MemoryVars) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
