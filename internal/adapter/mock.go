package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Mock is a thread-safe in-memory Inventory for testing and development.
type Mock struct {
	mu       sync.Mutex
	adapters map[string]*models.Adapter // object path → adapter
	lost     chan string
}

// NewMock creates a Mock inventory pre-populated with the given adapters.
// Exactly one of them should have Role == models.RoleReservedBLE.
func NewMock(adapters []models.Adapter) *Mock {
	m := &Mock{
		adapters: make(map[string]*models.Adapter, len(adapters)),
		lost:     make(chan string, 8),
	}
	for i := range adapters {
		a := adapters[i]
		a.Present = true
		m.adapters[a.ObjectPath] = &a
	}
	return m
}

func (m *Mock) ListAdapters() []models.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *Mock) Reserved() (models.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.adapters {
		if a.Role == models.RoleReservedBLE {
			return *a, true
		}
	}
	return models.Adapter{}, false
}

func (m *Mock) FreeAdapter() (models.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Adapter
	for _, a := range m.adapters {
		if a.Role != models.RoleAssignableA2DP {
			continue
		}
		if !a.Present || !a.Powered || a.Busy || a.AssignedMAC != "" {
			continue
		}
		if best == nil || a.Index < best.Index {
			best = a
		}
	}
	if best == nil {
		return models.Adapter{}, false
	}
	return *best, true
}

func (m *Mock) Assign(objectPath, mac string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[objectPath]
	if !ok || a.AssignedMAC != "" || a.Role != models.RoleAssignableA2DP {
		return false
	}
	a.AssignedMAC = mac
	return true
}

func (m *Mock) SetBusy(objectPath string, busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.adapters[objectPath]; ok {
		a.Busy = busy
	}
}

func (m *Mock) Release(objectPath, mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.adapters[objectPath]; ok && a.AssignedMAC == mac {
		a.AssignedMAC = ""
		a.Busy = false
	}
}

func (m *Mock) AdapterLost() <-chan string { return m.lost }

func (m *Mock) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// SimulateLoss marks objectPath unavailable and emits an AdapterLost event —
// used by tests that exercise §4.1's adapter_lost path.
func (m *Mock) SimulateLoss(objectPath string) {
	m.mu.Lock()
	if a, ok := m.adapters[objectPath]; ok {
		a.Present = false
	}
	m.mu.Unlock()
	select {
	case m.lost <- objectPath:
	default:
	}
}
