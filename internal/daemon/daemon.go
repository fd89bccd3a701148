// Package daemon implements the Event Loop & Supervision component (C9):
// it wires every other component together, owns the top-level lifetime
// context, and reacts to fatal bus-level events (a lost adapter) by
// failing the FSM instances that depended on it.
//
// There is no literal single OS thread here — the cooperative event
// loop is realized as goroutines plus channels plus the targeted locks
// each component already owns; Supervisor's job is only to start/stop
// those goroutines together and to relay the one cross-cutting signal
// (adapter loss) that several components must react to.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/agent"
	"github.com/micro-nova/sync-sonic-go/internal/audio"
	"github.com/micro-nova/sync-sonic-go/internal/config"
	"github.com/micro-nova/sync-sonic-go/internal/connsvc"
	"github.com/micro-nova/sync-sonic-go/internal/events"
	"github.com/micro-nova/sync-sonic-go/internal/fsm"
	"github.com/micro-nova/sync-sonic-go/internal/gatt"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
	"github.com/micro-nova/sync-sonic-go/internal/scan"
	"github.com/micro-nova/sync-sonic-go/internal/ultrasync"
)

// Supervisor owns every component's lifetime and the single system-bus
// connection they all share.
type Supervisor struct {
	conn *dbus.Conn
	env  config.Env

	Inventory adapter.Inventory
	Registry  *registry.Registry
	Agent     *agent.Agent
	Router    audio.Router
	Backend   fsm.Backend
	Bus       *events.Bus
	ConnSvc   *connsvc.Service
	Scanner   *scan.Scanner
	Sync      *ultrasync.Sync
	GATT      *gatt.Server

	allowed *config.AllowedList
}

// New builds every component and wires them to each other, but starts
// nothing yet — call Start. conn must already be connected to the system
// bus (org.freedesktop.DBus.SystemBus).
func New(ctx context.Context, conn *dbus.Conn, env config.Env) (*Supervisor, error) {
	inv, err := adapter.NewBlueZInventory(conn, env.ReservedAdapterName)
	if err != nil {
		return nil, fmt.Errorf("daemon: adapter inventory: %w", err)
	}
	reserved, ok := inv.Reserved()
	if !ok {
		return nil, fmt.Errorf("daemon: no reserved adapter could be determined (set %s)", "SYNCSONIC_RESERVED_ADAPTER")
	}
	slog.Info("daemon: reserved adapter resolved", "adapter", reserved.ObjectPath, "name", reserved.Name)

	reg := registry.New()
	ag := agent.New(conn, reserved.ObjectPath)
	router := audio.NewPulseRouter(env.VolumeCurve)
	backend := fsm.NewBlueZBackend(conn)
	bus := events.NewBus()

	svc := connsvc.New(ctx, inv, reg, router, backend, bus, nil) // notifier set once GATT exists

	scanner := scan.New(conn, inv, reg, nil) // notifier set once GATT exists

	sinkResolver := &backendSinkResolver{reg: reg, backend: backend}
	chirper := ultrasync.NewPulseChirper(sinkResolver)
	mic := &ultrasync.MicRecorder{}
	sync := ultrasync.New(reg, svc, chirper, mic, env.SyncTmpDir)

	gattSrv := gatt.New(conn, reserved.ObjectPath, svc, scanner, reg, sync)
	svc.SetNotifier(gattSrv)
	scanner.SetNotifier(gattSrv)

	allowed := config.NewAllowedList(env.AllowedMACsFile)
	svc.SetAllowedDefaults(allowed.Default)

	return &Supervisor{
		conn:      conn,
		env:       env,
		Inventory: inv,
		Registry:  reg,
		Agent:     ag,
		Router:    router,
		Backend:   backend,
		Bus:       bus,
		ConnSvc:   svc,
		Scanner:   scanner,
		Sync:      sync,
		GATT:      gattSrv,
		allowed:   allowed,
	}, nil
}

// backendSinkResolver adapts fsm.Backend.SinkID (which takes an adapter
// path) to ultrasync.SinkResolver (which only has a MAC), by first
// looking the speaker's current adapter up in the registry.
type backendSinkResolver struct {
	reg     *registry.Registry
	backend fsm.Backend
}

func (r *backendSinkResolver) SinkID(mac string) (string, error) {
	sp, ok := r.reg.Get(mac)
	if !ok || sp.Adapter == "" {
		return "", fmt.Errorf("daemon: no adapter on record for %s", mac)
	}
	return r.backend.SinkID(sp.Adapter, mac), nil
}

// Start registers the pairing agent and GATT application, and begins
// watching for fatal bus-level events. It blocks until ctx is cancelled.
func (sup *Supervisor) Start(ctx context.Context) error {
	if err := sup.Agent.Register(); err != nil {
		return fmt.Errorf("daemon: agent registration: %w", err)
	}
	if err := sup.GATT.Start(ctx); err != nil {
		return fmt.Errorf("daemon: gatt server start: %w", err)
	}

	go sup.watchInventory(ctx)
	go sup.forwardSnapshots(ctx)
	go func() {
		if err := sup.Inventory.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("daemon: adapter inventory loop exited", "err", err)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// watchInventory relays adapter_lost events (§4.1) to the Connection
// Service, which fails any FSM holding the lost adapter.
func (sup *Supervisor) watchInventory(ctx context.Context) {
	lost := sup.Inventory.AdapterLost()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-lost:
			if !ok {
				return
			}
			slog.Warn("daemon: adapter lost", "path", path)
			sup.ConnSvc.AbortAdapter(path)
		}
	}
}

// forwardSnapshots relays every published Pi-Status snapshot to the GATT
// server as a merged 0xF0 frame.
func (sup *Supervisor) forwardSnapshots(ctx context.Context) {
	ch := sup.Bus.Subscribe("gatt")
	defer sup.Bus.Unsubscribe("gatt")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			sup.GATT.PublishSnapshot(d.Snap)
		}
	}
}

// Shutdown disconnects every speaker in the current snapshot (cancelling
// its FSM, unrouting its loopback and releasing its adapter) and
// unregisters the agent. FSMs still in progress are not cancelled here,
// and the advertisement is not unregistered.
func (sup *Supervisor) Shutdown(ctx context.Context) {
	for _, mac := range sup.ConnSvc.Snapshot().Connected {
		if err := sup.ConnSvc.Disconnect(ctx, mac); err != nil {
			slog.Warn("daemon: shutdown disconnect failed", "mac", mac, "err", err)
		}
	}
	sup.Agent.Unregister()
	slog.Info("daemon: shutdown complete")
}
