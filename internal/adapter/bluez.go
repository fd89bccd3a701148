package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

const (
	bluezService  = "org.bluez"
	adapterIface  = "org.bluez.Adapter1"
	objManagerIf  = "org.freedesktop.DBus.ObjectManager"
	propsIface    = "org.freedesktop.DBus.Properties"
	pollInterval  = 5 * time.Second
)

// BlueZInventory is the real Inventory, backed by BlueZ's system-bus
// ObjectManager: it enumerates adapters via GetManagedObjects and tracks
// their presence/role/power state as properties change.
type BlueZInventory struct {
	conn       *dbus.Conn
	reservedID string // e.g. "hci0", empty if unresolved

	mu       sync.Mutex
	adapters map[string]*models.Adapter // object path → adapter

	lost    chan string
	limiter *rate.Limiter
}

// NewBlueZInventory performs the initial adapter scan over conn, an
// already-connected system bus. reservedHint is the environment-supplied controller name
// (§4.1); if empty, the first UART-bus adapter is chosen, or Reserved()
// reports false if none qualifies.
func NewBlueZInventory(conn *dbus.Conn, reservedHint string) (*BlueZInventory, error) {
	inv := &BlueZInventory{
		conn:     conn,
		adapters: make(map[string]*models.Adapter),
		lost:     make(chan string, 8),
		limiter:  rate.NewLimiter(rate.Every(50*time.Millisecond), 4),
	}
	if err := inv.rescan(context.Background()); err != nil {
		return nil, err
	}
	inv.resolveReserved(reservedHint)
	return inv, nil
}

func (inv *BlueZInventory) rescan(ctx context.Context) error {
	if err := inv.limiter.Wait(ctx); err != nil {
		return err
	}
	root := inv.conn.Object(bluezService, dbus.ObjectPath("/"))
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := root.CallWithContext(ctx, objManagerIf+".GetManagedObjects", 0)
	if call.Err != nil {
		return call.Err
	}
	if err := call.Store(&managed); err != nil {
		return err
	}

	uartPorts := detectUARTPorts()

	inv.mu.Lock()
	defer inv.mu.Unlock()
	for path, ifaces := range managed {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		id := strings.TrimPrefix(string(path), "/org/bluez/")
		index := parseHCIIndex(id)

		a, exists := inv.adapters[string(path)]
		if !exists {
			a = &models.Adapter{ObjectPath: string(path), Index: index, Role: models.RoleAssignableA2DP}
			inv.adapters[string(path)] = a
		}
		a.Present = true
		a.Name = variantString(props["Name"])
		a.Powered = variantBool(props["Powered"])
		a.Bus = classifyBus(variantString(props["Modalias"]), id, uartPorts)
	}
	return nil
}

// resolveReserved implements §4.1's reserved-adapter selection: honor the
// environment hint; else the first UART-bus adapter; else leave unset.
func (inv *BlueZInventory) resolveReserved(hint string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if hint != "" {
		path := "/org/bluez/" + hint
		if a, ok := inv.adapters[path]; ok {
			a.Role = models.RoleReservedBLE
			inv.reservedID = hint
			return
		}
		slog.Warn("adapter: reserved-adapter hint not found", "hint", hint)
	}

	var candidates []*models.Adapter
	for _, a := range inv.adapters {
		if a.Bus == models.BusUART {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Index < candidates[j].Index })
	if len(candidates) > 0 {
		candidates[0].Role = models.RoleReservedBLE
		inv.reservedID = strings.TrimPrefix(candidates[0].ObjectPath, "/org/bluez/")
	}
}

func (inv *BlueZInventory) ListAdapters() []models.Adapter {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]models.Adapter, 0, len(inv.adapters))
	for _, a := range inv.adapters {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (inv *BlueZInventory) Reserved() (models.Adapter, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, a := range inv.adapters {
		if a.Role == models.RoleReservedBLE {
			return *a, true
		}
	}
	return models.Adapter{}, false
}

func (inv *BlueZInventory) FreeAdapter() (models.Adapter, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var best *models.Adapter
	for _, a := range inv.adapters {
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

func (inv *BlueZInventory) Assign(objectPath, mac string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	a, ok := inv.adapters[objectPath]
	if !ok || a.AssignedMAC != "" || a.Role != models.RoleAssignableA2DP {
		return false
	}
	a.AssignedMAC = mac
	return true
}

func (inv *BlueZInventory) SetBusy(objectPath string, busy bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if a, ok := inv.adapters[objectPath]; ok {
		a.Busy = busy
	}
}

func (inv *BlueZInventory) Release(objectPath, mac string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if a, ok := inv.adapters[objectPath]; ok && a.AssignedMAC == mac {
		a.AssignedMAC = ""
		a.Busy = false
	}
}

func (inv *BlueZInventory) AdapterLost() <-chan string { return inv.lost }

// Start watches ObjectManager.InterfacesRemoved under /org/bluez for
// adapter unplug events and re-reads adapter properties every
// pollInterval. Blocks until ctx is cancelled.
func (inv *BlueZInventory) Start(ctx context.Context) error {
	rule := "type='signal',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesRemoved',path_namespace='/org/bluez'"
	if err := inv.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("adapter: AddMatch failed: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	inv.conn.Signal(sigCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			if sig == nil {
				continue
			}
			inv.handleSignal(sig)
		case <-ticker.C:
			if err := inv.rescan(ctx); err != nil {
				slog.Warn("adapter: rescan failed", "err", err)
			}
		}
	}
}

func (inv *BlueZInventory) handleSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.ObjectManager.InterfacesRemoved" {
		return
	}
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].([]string)
	if !ok {
		return
	}
	removed := false
	for _, iface := range ifaces {
		if iface == adapterIface {
			removed = true
			break
		}
	}
	if !removed {
		return
	}

	inv.mu.Lock()
	a, exists := inv.adapters[string(path)]
	if exists {
		a.Present = false
	}
	inv.mu.Unlock()

	if exists {
		select {
		case inv.lost <- string(path):
		default:
		}
	}
}

func parseHCIIndex(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "hci"))
	if err != nil {
		return -1
	}
	return n
}

// classifyBus guesses the controller's bus type from BlueZ's Modalias
// property (format "usb:v...", "uart:...", ...) or, failing that, from
// whether a UART port exists.
func classifyBus(modalias, id string, uartPorts []string) models.BusType {
	switch {
	case strings.HasPrefix(modalias, "usb:"):
		return models.BusUSB
	case strings.HasPrefix(modalias, "uart:") || strings.HasPrefix(modalias, "tty:"):
		return models.BusUART
	}
	for _, p := range uartPorts {
		if strings.Contains(p, id) {
			return models.BusUART
		}
	}
	return models.BusUnknown
}

func detectUARTPorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil
	}
	return ports
}

func variantString(v dbus.Variant) string {
	if v.Value() == nil {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func variantBool(v dbus.Variant) bool {
	if v.Value() == nil {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}
