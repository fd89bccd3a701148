// Package fsm implements the Connection FSM (C5): one goroutine-backed
// instance per target speaker, driving Discovery → Pairing → Trusting →
// Connecting → Routing to Done, Failed, or Cancelled, with per-phase retry
// counters, timeouts, and phase-event emission.
package fsm

import (
	"context"
	"time"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/audio"
	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
)

// Retry/timeout constants for the Connection FSM's phase attempts.
const (
	MaxPairAttempts    = 3
	MaxConnectAttempts = 3

	DiscoveryTimeout = 30 * time.Second
	PairTimeout      = 20 * time.Second
	ConnectTimeout   = 15 * time.Second
	LoopbackTimeout  = 10 * time.Second
)

// PhaseEmitter receives every phase event an Instance produces, in causal
// order for a given MAC. Implemented by connsvc (and ultimately internal/gatt).
type PhaseEmitter interface {
	EmitPhase(models.PhaseEvent)
}

// Deps bundles the collaborators an Instance needs for its phase entry
// actions.
type Deps struct {
	Inventory adapter.Inventory
	Registry  *registry.Registry
	Router    audio.Router
	Backend   Backend
	Emitter   PhaseEmitter
}

type command struct {
	cancel bool
	abort  *models.AppError
}

// Instance is one per-MAC Connection FSM. All state mutation happens on
// its own goroutine; external callers only ever send on cmdCh.
type Instance struct {
	mac      string
	name     string
	settings models.Settings
	allowed  []string

	deps Deps

	adapterPath string

	state     models.FSMState
	cmdCh     chan command
	doneCh    chan struct{}
	result    error
	cancelled bool
	abortErr  *models.AppError
}

// New creates an Instance for mac but does not start it; call Run.
func New(mac, name string, settings models.Settings, allowed []string, deps Deps) *Instance {
	return &Instance{
		mac:      models.CanonicalMAC(mac),
		name:     name,
		settings: settings.Clamp(),
		allowed:  allowed,
		deps:     deps,
		state:    models.StateStart,
		cmdCh:    make(chan command, 4),
		doneCh:   make(chan struct{}),
	}
}

// State returns the Instance's current state.
func (i *Instance) State() models.FSMState { return i.state }

// Cancel requests cooperative cancellation. Safe to call multiple times
// or after the Instance has already finished.
func (i *Instance) Cancel() {
	select {
	case i.cmdCh <- command{cancel: true}:
	default:
	}
}

// Abort requests the Instance terminate as Failed with err, used by
// connsvc when the adapter inventory reports the held adapter disappeared.
// Unlike Cancel, this is a terminal failure, not a Cancelled transition.
func (i *Instance) Abort(err *models.AppError) {
	select {
	case i.cmdCh <- command{abort: err}:
	default:
	}
}

// Done returns a channel closed once the Instance reaches a terminal state.
func (i *Instance) Done() <-chan struct{} { return i.doneCh }

// Run drives the FSM to completion on the calling goroutine. Callers
// invoke it via `go instance.Run(ctx)`.
func (i *Instance) Run(ctx context.Context) {
	defer close(i.doneCh)

	i.emit(models.PhaseFSMStart, 0, "")

	for {
		if i.handleInterrupt() {
			return
		}

		switch i.state {
		case models.StateStart:
			if !i.stepStart() {
				return
			}
		case models.StateDiscovery:
			if !i.stepDiscovery(ctx) {
				return
			}
		case models.StatePairing:
			if !i.stepPairing(ctx) {
				return
			}
		case models.StateTrusting:
			if !i.stepTrusting(ctx) {
				return
			}
		case models.StateConnecting:
			if !i.stepConnecting(ctx) {
				return
			}
		case models.StateRouting:
			if !i.stepRouting(ctx) {
				return
			}
		case models.StateDone, models.StateFailed, models.StateCancelled:
			return
		}
	}
}

func (i *Instance) checkCancel() bool {
	select {
	case cmd := <-i.cmdCh:
		if cmd.cancel {
			i.cancelled = true
		}
		if cmd.abort != nil {
			i.abortErr = cmd.abort
		}
	default:
	}
	return (i.cancelled || i.abortErr != nil) && !i.state.IsTerminal()
}

// handleInterrupt checks for a pending Cancel or Abort and, if found,
// drives the Instance to its corresponding terminal state. It returns
// true if the Instance was interrupted (the caller should stop stepping).
func (i *Instance) handleInterrupt() bool {
	if !i.checkCancel() {
		return false
	}
	if i.abortErr != nil {
		i.transitionAborted()
	} else {
		i.transitionCancelled()
	}
	return true
}

func (i *Instance) transitionCancelled() {
	if i.adapterPath != "" {
		i.deps.Inventory.Release(i.adapterPath, i.mac)
	}
	i.state = models.StateCancelled
	i.result = nil
}

// transitionAborted handles adapter_lost and any other externally forced
// failure: release the adapter (if still held), fail terminally, and
// publish the phase event the caller supplied via Abort.
func (i *Instance) transitionAborted() {
	if i.adapterPath != "" {
		i.deps.Inventory.Release(i.adapterPath, i.mac)
	}
	i.result = i.abortErr
	i.state = models.StateFailed
	i.emit(models.PhaseAdapterLost, 0, string(models.StateFailed))
}

// stepStart allocates an adapter for this Instance's lifetime.
func (i *Instance) stepStart() bool {
	free, ok := i.deps.Inventory.FreeAdapter()
	if !ok {
		noAdapter := models.ErrNoAdapter(i.mac)
		i.result = noAdapter
		i.state = models.StateFailed
		i.emit(noAdapter.Reason, 0, string(models.StateFailed))
		return false
	}
	if !i.deps.Inventory.Assign(free.ObjectPath, i.mac) {
		i.result = models.ErrNoAdapter(i.mac)
		i.state = models.StateFailed
		return false
	}
	i.adapterPath = free.ObjectPath
	i.deps.Registry.Upsert(i.mac, i.name, 0, i.adapterPath)
	i.deps.Inventory.SetBusy(i.adapterPath, true)
	i.state = models.StateDiscovery
	return true
}

func (i *Instance) stepDiscovery(ctx context.Context) bool {
	i.emit(models.PhaseDiscoveryStart, 0, "")

	dctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()
	found, err := i.deps.Backend.Discover(dctx, i.adapterPath, i.mac)
	if err != nil || !found {
		i.failDiscoveryTimeout()
		return false
	}
	i.emit(models.PhaseDiscoveryComplete, 0, "")

	if i.deps.Backend.AlreadyPaired(ctx, i.adapterPath, i.mac) {
		i.state = models.StateConnecting
	} else {
		i.state = models.StatePairing
	}
	return true
}

func (i *Instance) failDiscoveryTimeout() {
	i.deps.Inventory.Release(i.adapterPath, i.mac)
	i.result = models.ErrDiscoveryTimeout(i.mac)
	i.state = models.StateFailed
	i.emit(models.PhaseDiscoveryTimeout, 0, string(models.StateFailed))
}

func (i *Instance) stepPairing(ctx context.Context) bool {
	for attempt := 1; attempt <= MaxPairAttempts; attempt++ {
		if i.handleInterrupt() {
			return false
		}
		i.emit(models.PhasePairingStart, attempt, "")

		pctx, cancel := context.WithTimeout(ctx, PairTimeout)
		err := i.deps.Backend.Pair(pctx, i.adapterPath, i.mac)
		cancel()
		if err == nil {
			i.deps.Registry.MarkPaired(i.mac, true)
			i.emit(models.PhasePairingSuccess, attempt, "")
			i.state = models.StateTrusting
			return true
		}
		i.emit(models.PhasePairingFailed, attempt, "")
	}

	i.deps.Inventory.Release(i.adapterPath, i.mac)
	i.result = models.ErrPairingFailed(i.mac, MaxPairAttempts)
	i.state = models.StateFailed
	return false
}

func (i *Instance) stepTrusting(ctx context.Context) bool {
	i.emit(models.PhaseTrusting, 0, "")
	if err := i.deps.Backend.SetTrusted(ctx, i.adapterPath, i.mac); err != nil {
		i.deps.Inventory.Release(i.adapterPath, i.mac)
		i.result = models.ErrTrustFailed(i.mac)
		i.state = models.StateFailed
		return false
	}
	i.deps.Registry.MarkTrusted(i.mac, true)
	i.state = models.StateConnecting
	return true
}

func (i *Instance) stepConnecting(ctx context.Context) bool {
	for attempt := 1; attempt <= MaxConnectAttempts; attempt++ {
		if i.handleInterrupt() {
			return false
		}
		i.emit(models.PhaseConnectStart, attempt, "")

		cctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		err := i.deps.Backend.Connect(cctx, i.adapterPath, i.mac)
		cancel()
		if err == nil {
			i.emit(models.PhaseConnectSuccess, attempt, "")
			i.state = models.StateRouting
			return true
		}
		i.emit(models.PhaseConnectFailed, attempt, "")
	}

	i.deps.Inventory.Release(i.adapterPath, i.mac)
	i.result = models.ErrConnectFailed(i.mac, MaxConnectAttempts)
	i.state = models.StateFailed
	return false
}

func (i *Instance) stepRouting(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, LoopbackTimeout)
	defer cancel()

	sink := i.deps.Backend.SinkID(i.adapterPath, i.mac)
	if err := i.deps.Router.Route(rctx, i.mac, sink); err != nil {
		_ = i.deps.Router.Unroute(rctx, i.mac)
		i.deps.Inventory.Release(i.adapterPath, i.mac)
		i.result = models.ErrLoopbackFailed(i.mac)
		i.state = models.StateFailed
		i.emit(models.PhaseLoopbackFailed, 0, string(models.StateFailed))
		return false
	}

	_ = i.deps.Router.SetVolume(rctx, i.mac, i.settings.Volume, i.settings.Balance)
	_ = i.deps.Router.SetLatency(rctx, i.mac, i.settings.LatencyMs)
	_ = i.deps.Router.SetMute(rctx, i.mac, i.settings.Muted)
	i.deps.Registry.SetSettings(i.mac, i.settings)

	i.deps.Inventory.SetBusy(i.adapterPath, false)
	i.state = models.StateDone
	return false
}

func (i *Instance) emit(phase string, attempt int, state string) {
	if i.deps.Emitter == nil {
		return
	}
	i.deps.Emitter.EmitPhase(models.PhaseEvent{
		Phase:   phase,
		Device:  i.mac,
		Attempt: attempt,
		State:   state,
	})
}

// Err returns the terminal AppError, if the Instance failed.
func (i *Instance) Err() error { return i.result }

// AdapterPath returns the adapter assigned to this Instance, if any.
func (i *Instance) AdapterPath() string { return i.adapterPath }
