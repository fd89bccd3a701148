package fsm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const a2dpSinkUUID = "0000110b-0000-1000-8000-00805f9b34fb"

// BlueZBackend is the real Backend, driving org.bluez.Device1 over the
// system bus.
type BlueZBackend struct {
	conn *dbus.Conn
}

// NewBlueZBackend wraps an already-connected system bus connection.
func NewBlueZBackend(conn *dbus.Conn) *BlueZBackend {
	return &BlueZBackend{conn: conn}
}

func devicePath(adapterPath, mac string) dbus.ObjectPath {
	id := "dev_" + strings.ReplaceAll(mac, ":", "_")
	return dbus.ObjectPath(adapterPath + "/" + id)
}

// Discover polls BlueZ's ObjectManager until a Device1 object for mac
// appears under adapterPath, or ctx expires.
func (b *BlueZBackend) Discover(ctx context.Context, adapterPath, mac string) (bool, error) {
	target := devicePath(adapterPath, mac)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.deviceExists(ctx, target) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BlueZBackend) deviceExists(ctx context.Context, path dbus.ObjectPath) bool {
	root := b.conn.Object("org.bluez", dbus.ObjectPath("/"))
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := root.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return false
	}
	if err := call.Store(&managed); err != nil {
		return false
	}
	_, ok := managed[path]["org.bluez.Device1"]
	return ok
}

// AlreadyPaired reads org.bluez.Device1.Paired.
func (b *BlueZBackend) AlreadyPaired(ctx context.Context, adapterPath, mac string) bool {
	obj := b.conn.Object("org.bluez", devicePath(adapterPath, mac))
	v, err := obj.GetProperty("org.bluez.Device1.Paired")
	if err != nil {
		return false
	}
	paired, _ := v.Value().(bool)
	return paired
}

// Pair invokes org.bluez.Device1.Pair.
func (b *BlueZBackend) Pair(ctx context.Context, adapterPath, mac string) error {
	obj := b.conn.Object("org.bluez", devicePath(adapterPath, mac))
	call := obj.CallWithContext(ctx, "org.bluez.Device1.Pair", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: pair %s: %w", mac, call.Err)
	}
	return nil
}

// SetTrusted sets org.bluez.Device1.Trusted = true.
func (b *BlueZBackend) SetTrusted(ctx context.Context, adapterPath, mac string) error {
	obj := b.conn.Object("org.bluez", devicePath(adapterPath, mac))
	call := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0,
		"org.bluez.Device1", "Trusted", dbus.MakeVariant(true))
	if call.Err != nil {
		return fmt.Errorf("bluez: set trusted %s: %w", mac, call.Err)
	}
	return nil
}

// Connect invokes org.bluez.Device1.ConnectProfile with the A2DP sink UUID.
func (b *BlueZBackend) Connect(ctx context.Context, adapterPath, mac string) error {
	obj := b.conn.Object("org.bluez", devicePath(adapterPath, mac))
	call := obj.CallWithContext(ctx, "org.bluez.Device1.ConnectProfile", 0, a2dpSinkUUID)
	if call.Err != nil {
		return fmt.Errorf("bluez: connect %s: %w", mac, call.Err)
	}
	return nil
}

// Disconnect invokes org.bluez.Device1.Disconnect.
func (b *BlueZBackend) Disconnect(ctx context.Context, adapterPath, mac string) error {
	obj := b.conn.Object("org.bluez", devicePath(adapterPath, mac))
	call := obj.CallWithContext(ctx, "org.bluez.Device1.Disconnect", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: disconnect %s: %w", mac, call.Err)
	}
	return nil
}

// SinkID derives the PulseAudio sink name BlueZ's module-bluez5-device
// registers for an A2DP connection.
func (b *BlueZBackend) SinkID(adapterPath, mac string) string {
	return "bluez_sink." + strings.ReplaceAll(mac, ":", "_") + ".a2dp_sink"
}
