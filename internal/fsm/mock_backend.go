package fsm

import (
	"context"
	"sync"
)

// MockBackend is an in-memory Backend for tests. Each method's behavior for
// a given MAC can be scripted via the exported maps before Run starts;
// defaults succeed immediately.
type MockBackend struct {
	mu sync.Mutex

	DiscoverFound map[string]bool
	AlreadyPair   map[string]bool
	PairFailures  map[string]int // number of times Pair should fail before succeeding
	ConnectFails  map[string]int

	pairAttempts    map[string]int
	connectAttempts map[string]int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		DiscoverFound:   make(map[string]bool),
		AlreadyPair:     make(map[string]bool),
		PairFailures:    make(map[string]int),
		ConnectFails:    make(map[string]int),
		pairAttempts:    make(map[string]int),
		connectAttempts: make(map[string]int),
	}
}

func (b *MockBackend) Discover(ctx context.Context, adapterPath, mac string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found, ok := b.DiscoverFound[mac]
	if !ok {
		return true, nil
	}
	return found, nil
}

func (b *MockBackend) AlreadyPaired(ctx context.Context, adapterPath, mac string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AlreadyPair[mac]
}

func (b *MockBackend) Pair(ctx context.Context, adapterPath, mac string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairAttempts[mac]++
	if b.pairAttempts[mac] <= b.PairFailures[mac] {
		return errTransient
	}
	return nil
}

func (b *MockBackend) SetTrusted(ctx context.Context, adapterPath, mac string) error {
	return nil
}

func (b *MockBackend) Connect(ctx context.Context, adapterPath, mac string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectAttempts[mac]++
	if b.connectAttempts[mac] <= b.ConnectFails[mac] {
		return errTransient
	}
	return nil
}

func (b *MockBackend) Disconnect(ctx context.Context, adapterPath, mac string) error {
	return nil
}

func (b *MockBackend) SinkID(adapterPath, mac string) string {
	return "bluez_sink." + mac
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errTransient = sentinelErr("simulated transient failure")
