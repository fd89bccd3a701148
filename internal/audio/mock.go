package audio

import (
	"context"
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/config"
	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// MockRouter is an in-memory Router for tests, recording the operations it
// was asked to perform rather than shelling out.
type MockRouter struct {
	curve config.VolumeCurve

	mu     sync.Mutex
	routed map[string]string // mac -> sinkID
	state  map[string]models.Settings

	FailRoute bool // when true, Route always returns loopback_failed
}

// NewMockRouter creates an empty MockRouter.
func NewMockRouter(curve config.VolumeCurve) *MockRouter {
	return &MockRouter{
		curve:  curve,
		routed: make(map[string]string),
		state:  make(map[string]models.Settings),
	}
}

func (m *MockRouter) Route(ctx context.Context, mac, sinkID string) error {
	mac = models.CanonicalMAC(mac)
	if m.FailRoute {
		return models.ErrLoopbackFailed(mac)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed[mac] = sinkID
	m.state[mac] = models.Settings{Volume: 100, Balance: 0.5}
	return nil
}

func (m *MockRouter) Unroute(ctx context.Context, mac string) error {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routed, mac)
	delete(m.state, mac)
	return nil
}

func (m *MockRouter) SetVolume(ctx context.Context, mac string, volume int, balance float64) error {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routed[mac]; !ok {
		return models.ErrLoopbackFailed(mac)
	}
	s := m.state[mac]
	s.Volume, s.Balance = volume, balance
	m.state[mac] = s
	return nil
}

func (m *MockRouter) SetLatency(ctx context.Context, mac string, latencyMs int) error {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routed[mac]; !ok {
		return models.ErrLoopbackFailed(mac)
	}
	s := m.state[mac]
	s.LatencyMs = latencyMs
	m.state[mac] = s
	return nil
}

func (m *MockRouter) SetMute(ctx context.Context, mac string, muted bool) error {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routed[mac]; !ok {
		return models.ErrLoopbackFailed(mac)
	}
	s := m.state[mac]
	s.Muted = muted
	m.state[mac] = s
	return nil
}

// State returns a copy of mac's current routed settings, for tests.
func (m *MockRouter) State(mac string) (models.Settings, bool) {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[mac]
	return s, ok
}

// IsRouted reports whether mac currently has a loopback.
func (m *MockRouter) IsRouted(mac string) bool {
	mac = models.CanonicalMAC(mac)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.routed[mac]
	return ok
}
