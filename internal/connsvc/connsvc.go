// Package connsvc implements the Connection Service (C6): it owns every
// Connection FSM, allocates adapters to speakers, serializes operations
// that touch the same MAC or the same adapter, and publishes status
// snapshots and phase events.
package connsvc

import (
	"context"
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/audio"
	"github.com/micro-nova/sync-sonic-go/internal/events"
	"github.com/micro-nova/sync-sonic-go/internal/fsm"
	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
)

// Notifier receives per-MAC phase events for relay to the phone, the role
// internal/gatt plays.
type Notifier interface {
	NotifyPhase(models.PhaseEvent)
}

// Service is the single owner of the FSM map; all state mutation for a
// given MAC happens either inside that MAC's own FSM goroutine or while
// holding that MAC's per-MAC lock here.
type Service struct {
	inv      adapter.Inventory
	reg      *registry.Registry
	router   audio.Router
	backend  fsm.Backend
	bus      *events.Bus
	notifier Notifier

	// allowedDefaults supplies a fallback whitelist when a Connect-one
	// frame omits `allowed`, falling back to config.AllowedList. nil means
	// no restriction in the absence of a caller-supplied list.
	allowedDefaults func() []string

	mu        sync.Mutex
	instances map[string]*fsm.Instance
	macLocks  map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Service. ctx governs every FSM instance's lifetime; it
// should be the daemon's top-level context.
func New(ctx context.Context, inv adapter.Inventory, reg *registry.Registry, router audio.Router, backend fsm.Backend, bus *events.Bus, notifier Notifier) *Service {
	svcCtx, cancel := context.WithCancel(ctx)
	return &Service{
		inv:       inv,
		reg:       reg,
		router:    router,
		backend:   backend,
		bus:       bus,
		notifier:  notifier,
		instances: make(map[string]*fsm.Instance),
		macLocks:  make(map[string]*sync.Mutex),
		ctx:       svcCtx,
		cancel:    cancel,
	}
}

// SetNotifier assigns the Notifier once it exists, resolving the
// construction-order cycle between connsvc and gatt (gatt.Server needs a
// Connector to build, connsvc.Service needs a Notifier to build). Call
// once, before Start.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetAllowedDefaults installs the config-level default whitelist resolver
// used whenever a Connect-one frame's own `allowed` list is empty.
func (s *Service) SetAllowedDefaults(fn func() []string) {
	s.allowedDefaults = fn
}

func (s *Service) macLock(mac string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.macLocks[mac]
	if !ok {
		l = &sync.Mutex{}
		s.macLocks[mac] = l
	}
	return l
}

// EmitPhase implements fsm.PhaseEmitter. It relays the event to the
// notifier and, on discovery_timeout, pairing_failed or connect_failed
// (every failed attempt included), loopback_failed or adapter_lost,
// republishes the snapshot.
func (s *Service) EmitPhase(e models.PhaseEvent) {
	if s.notifier != nil {
		s.notifier.NotifyPhase(e)
	}
	switch e.Phase {
	case models.PhaseDiscoveryTimeout, models.PhasePairingFailed, models.PhaseConnectFailed, models.PhaseLoopbackFailed, models.PhaseAdapterLost:
		s.publishSnapshot()
	}
}

// Connect starts the Connection FSM for mac. allowed, when non-empty,
// must contain mac or the request is rejected synchronously with
// ErrNotAllowed; the check applies only to this call, not session-wide.
func (s *Service) Connect(mac, name string, settings models.Settings, allowed []string) error {
	mac = models.CanonicalMAC(mac)
	if len(allowed) == 0 && s.allowedDefaults != nil {
		allowed = s.allowedDefaults()
	}
	if len(allowed) > 0 && !macAllowed(mac, allowed) {
		return models.ErrNotAllowed(mac)
	}

	lock := s.macLock(mac)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if existing, ok := s.instances[mac]; ok && !existing.State().IsTerminal() {
		s.mu.Unlock()
		return nil // already connecting/connected, no-op
	}
	s.mu.Unlock()

	s.reg.Upsert(mac, name, 0, "")

	deps := fsm.Deps{
		Inventory: s.inv,
		Registry:  s.reg,
		Router:    s.router,
		Backend:   s.backend,
		Emitter:   s,
	}
	inst := fsm.New(mac, name, settings, allowed, deps)

	s.mu.Lock()
	s.instances[mac] = inst
	s.mu.Unlock()

	go func() {
		inst.Run(s.ctx)
		<-inst.Done()
		s.publishSnapshot()
	}()
	return nil
}

// Disconnect cancels mac's in-flight FSM (if any) and tears down its
// loopback and adapter connection regardless of FSM phase, per §4.6.
func (s *Service) Disconnect(ctx context.Context, mac string) error {
	mac = models.CanonicalMAC(mac)
	lock := s.macLock(mac)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	inst, ok := s.instances[mac]
	s.mu.Unlock()
	if ok {
		inst.Cancel()
		<-inst.Done()
		if path := inst.AdapterPath(); path != "" {
			_ = s.backend.Disconnect(ctx, path, mac)
			s.inv.Release(path, mac)
		}
	}
	_ = s.router.Unroute(ctx, mac)

	s.mu.Lock()
	delete(s.instances, mac)
	s.mu.Unlock()

	s.notifyDisconnect(mac)
	s.publishSnapshot()
	return nil
}

// AbortAdapter fails, terminally, any FSM instance currently holding
// adapterPath, per §4.1: "notify C6 to abort any FSM that held it (phase
// event adapter_lost, terminal failure)". Called by the daemon supervisor
// when it observes adapterPath disappear on C1's AdapterLost channel.
func (s *Service) AbortAdapter(adapterPath string) {
	s.mu.Lock()
	var victims []*fsm.Instance
	for _, inst := range s.instances {
		if inst.AdapterPath() == adapterPath {
			victims = append(victims, inst)
		}
	}
	s.mu.Unlock()

	for _, inst := range victims {
		inst.Abort(models.ErrAdapterLost(""))
	}
}

func (s *Service) notifyDisconnect(mac string) {
	if s.notifier != nil {
		s.notifier.NotifyPhase(models.PhaseEvent{Phase: models.PhaseDisconnectDone, Device: mac})
	}
}

// SetVolume applies v/b to mac's live loopback.
func (s *Service) SetVolume(ctx context.Context, mac string, v int, b float64) error {
	mac = models.CanonicalMAC(mac)
	clamped := models.Settings{Volume: v, Balance: b}.Clamp()
	cur := s.reg.Settings(mac)
	cur.Volume, cur.Balance = clamped.Volume, clamped.Balance
	s.reg.SetSettings(mac, cur)
	return s.router.SetVolume(ctx, mac, clamped.Volume, clamped.Balance)
}

// SetLatency applies ms to mac's live loopback.
func (s *Service) SetLatency(ctx context.Context, mac string, ms int) error {
	mac = models.CanonicalMAC(mac)
	clamped := models.Settings{LatencyMs: ms}.Clamp()
	cur := s.reg.Settings(mac)
	cur.LatencyMs = clamped.LatencyMs
	s.reg.SetSettings(mac, cur)
	return s.router.SetLatency(ctx, mac, clamped.LatencyMs)
}

// SetMute applies muted to mac's live loopback.
func (s *Service) SetMute(ctx context.Context, mac string, muted bool) error {
	mac = models.CanonicalMAC(mac)
	cur := s.reg.Settings(mac)
	cur.Muted = muted
	s.reg.SetSettings(mac, cur)
	return s.router.SetMute(ctx, mac, muted)
}

// Snapshot returns the current Pi-Status snapshot.
func (s *Service) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computeSnapshotLocked()
}

func (s *Service) computeSnapshotLocked() models.Snapshot {
	connected := make([]string, 0, len(s.instances))
	for mac, inst := range s.instances {
		if inst.State() == models.StateDone {
			connected = append(connected, mac)
		}
	}
	return models.Snapshot{Connected: connected}
}

func (s *Service) publishSnapshot() {
	s.mu.Lock()
	snap := s.computeSnapshotLocked()
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(snap)
	}
}

func macAllowed(mac string, allowed []string) bool {
	for _, a := range allowed {
		if models.CanonicalMAC(a) == mac {
			return true
		}
	}
	return false
}
