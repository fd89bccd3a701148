// Package scan drives classic-Bluetooth discovery (opcodes 0x40/0x41/0x43):
// it starts/stops BlueZ inquiry on every assignable adapter and relays each
// newly seen device to the registry and to a per-device notification
// callback.
package scan

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
)

// DeviceNotifier receives a per-device scan result, to be encoded as a
// 0x43 frame by internal/gatt.
type DeviceNotifier interface {
	NotifyDevice(mac, name string, paired bool)
}

// Scanner implements gatt.Scanner.
type Scanner struct {
	conn *dbus.Conn
	inv  adapter.Inventory
	reg  *registry.Registry
	out  DeviceNotifier

	mu       sync.Mutex
	scanning bool
	sigCh    chan *dbus.Signal
	cancel   context.CancelFunc
}

// New creates a Scanner.
func New(conn *dbus.Conn, inv adapter.Inventory, reg *registry.Registry, out DeviceNotifier) *Scanner {
	return &Scanner{conn: conn, inv: inv, reg: reg, out: out}
}

// SetNotifier assigns the DeviceNotifier once it exists, resolving the
// same construction-order cycle connsvc.Service.SetNotifier does.
func (s *Scanner) SetNotifier(out DeviceNotifier) {
	s.out = out
}

// StartScan invokes org.bluez.Adapter1.StartDiscovery on every assignable
// adapter and begins relaying InterfacesAdded signals for Device1 objects.
func (s *Scanner) StartScan(ctx context.Context) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = true
	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	for _, a := range s.inv.ListAdapters() {
		if a.Role != models.RoleAssignableA2DP || !a.Present || !a.Powered {
			continue
		}
		obj := s.conn.Object("org.bluez", dbus.ObjectPath(a.ObjectPath))
		_ = obj.CallWithContext(ctx, "org.bluez.Adapter1.StartDiscovery", 0).Err
	}

	rule := "type='signal',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesAdded',path_namespace='/org/bluez'"
	_ = s.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err

	sigCh := make(chan *dbus.Signal, 16)
	s.conn.Signal(sigCh)
	s.mu.Lock()
	s.sigCh = sigCh
	s.mu.Unlock()

	go s.watch(watchCtx, sigCh)
	return nil
}

func (s *Scanner) watch(ctx context.Context, sigCh chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok || sig == nil {
				continue
			}
			s.handleInterfacesAdded(sig)
		}
	}
}

func (s *Scanner) handleInterfacesAdded(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.ObjectManager.InterfacesAdded" || len(sig.Body) < 2 {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces["org.bluez.Device1"]
	if !ok {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	mac := macFromObjectPath(path)
	if mac == "" {
		return
	}
	name, _ := props["Name"].Value().(string)
	paired, _ := props["Paired"].Value().(bool)

	s.reg.Upsert(mac, name, 0, "")
	if s.out != nil {
		s.out.NotifyDevice(mac, name, paired)
	}
}

func macFromObjectPath(path dbus.ObjectPath) string {
	parts := strings.Split(string(path), "/")
	for _, p := range parts {
		if strings.HasPrefix(p, "dev_") {
			return models.CanonicalMAC(strings.ReplaceAll(strings.TrimPrefix(p, "dev_"), "_", ":"))
		}
	}
	return ""
}

// StopScan invokes org.bluez.Adapter1.StopDiscovery on every assignable
// adapter and stops relaying signals.
func (s *Scanner) StopScan(ctx context.Context) error {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, a := range s.inv.ListAdapters() {
		if a.Role != models.RoleAssignableA2DP {
			continue
		}
		obj := s.conn.Object("org.bluez", dbus.ObjectPath(a.ObjectPath))
		_ = obj.CallWithContext(ctx, "org.bluez.Adapter1.StopDiscovery", 0).Err
	}
	return nil
}
