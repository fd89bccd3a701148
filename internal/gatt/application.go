package gatt

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

const (
	appRootPath = dbus.ObjectPath("/org/syncsonic/gatt")
	servicePath = appRootPath + "/service0"
	charPath    = servicePath + "/char0"
	cccdPath    = charPath + "/desc0"

	serviceUUID = "7b1f0001-9a2e-4d1c-8c3a-0a5f6e9b1234"
	charUUID    = "7b1f0002-9a2e-4d1c-8c3a-0a5f6e9b1234"
	cccdUUID    = "00002902-0000-1000-8000-00805f9b34fb"

	advertisedName = "Sync-Sonic"
)

// writeHandler is invoked for every write-without-response to the
// characteristic. It returns nothing — responses arrive asynchronously
// as notifications.
type writeHandler func(data []byte)

// application is the exported D-Bus object hierarchy BlueZ's GattManager1
// registers: an ObjectManager root, one GattService1, one
// GattCharacteristic1 (read/write-without-response/notify), and its CCCD.
type application struct {
	conn    *dbus.Conn
	onWrite writeHandler

	mu            sync.Mutex
	lastValue     []byte
	notifyEnabled bool
	notifyFunc    func([]byte)
}

// newApplication creates the GATT application but does not export or
// register it yet; call export and then registerWithBlueZ.
func newApplication(conn *dbus.Conn, onWrite writeHandler) *application {
	return &application{conn: conn, onWrite: onWrite, lastValue: []byte{}}
}

func (a *application) export() error {
	root := &objectManager{app: a}
	if err := a.conn.Export(root, appRootPath, "org.freedesktop.DBus.ObjectManager"); err != nil {
		return err
	}

	svcProps := map[string]map[string]*prop.Prop{
		"org.bluez.GattService1": {
			"UUID":    {Value: serviceUUID, Writable: false, Emit: prop.EmitFalse},
			"Primary": {Value: true, Writable: false, Emit: prop.EmitFalse},
		},
	}
	if _, err := prop.Export(a.conn, servicePath, svcProps); err != nil {
		return err
	}
	if err := a.conn.Export(&noMethods{}, servicePath, "org.bluez.GattService1"); err != nil {
		return err
	}
	a.exportIntrospectable(servicePath, "org.bluez.GattService1")

	charProps := map[string]map[string]*prop.Prop{
		"org.bluez.GattCharacteristic1": {
			"UUID":    {Value: charUUID, Writable: false, Emit: prop.EmitFalse},
			"Service": {Value: servicePath, Writable: false, Emit: prop.EmitFalse},
			"Flags":   {Value: []string{"read", "write-without-response", "notify"}, Writable: false, Emit: prop.EmitFalse},
		},
	}
	if _, err := prop.Export(a.conn, charPath, charProps); err != nil {
		return err
	}
	if err := a.conn.Export(&characteristic{app: a}, charPath, "org.bluez.GattCharacteristic1"); err != nil {
		return err
	}
	a.exportIntrospectable(charPath, "org.bluez.GattCharacteristic1")

	descProps := map[string]map[string]*prop.Prop{
		"org.bluez.GattDescriptor1": {
			"UUID":           {Value: cccdUUID, Writable: false, Emit: prop.EmitFalse},
			"Characteristic": {Value: charPath, Writable: false, Emit: prop.EmitFalse},
		},
	}
	if _, err := prop.Export(a.conn, cccdPath, descProps); err != nil {
		return err
	}
	if err := a.conn.Export(&descriptor{}, cccdPath, "org.bluez.GattDescriptor1"); err != nil {
		return err
	}
	a.exportIntrospectable(cccdPath, "org.bluez.GattDescriptor1")

	return nil
}

func (a *application) exportIntrospectable(path dbus.ObjectPath, iface string) {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{introspect.IntrospectData, {Name: iface}},
	}
	_ = a.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable")
}

// registerWithBlueZ calls GattManager1.RegisterApplication on the given
// adapter object path (the reserved adapter).
func (a *application) registerWithBlueZ(adapterPath string) error {
	mgr := a.conn.Object("org.bluez", dbus.ObjectPath(adapterPath))
	call := mgr.Call("org.bluez.GattManager1.RegisterApplication", 0, appRootPath, map[string]dbus.Variant{})
	return call.Err
}

// setNotifyFunc wires the function that sends a BLE notification with the
// given bytes. Server.Start sets it; Send calls it only while the phone
// has notifications enabled via StartNotify.
func (a *application) setNotifyFunc(f func([]byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifyFunc = f
}

// Send queues a notification frame, if notifications are currently enabled.
func (a *application) Send(frame []byte) {
	a.mu.Lock()
	a.lastValue = frame
	enabled := a.notifyEnabled
	notifyFunc := a.notifyFunc
	a.mu.Unlock()

	if enabled && notifyFunc != nil {
		notifyFunc(frame)
	}
}

// objectManager implements org.freedesktop.DBus.ObjectManager on the
// application root, the interface BlueZ requires to discover the
// service/characteristic/descriptor hierarchy (per BlueZ's GATT API docs).
type objectManager struct {
	app *application
}

func (o *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		servicePath: {
			"org.bluez.GattService1": {
				"UUID":    dbus.MakeVariant(serviceUUID),
				"Primary": dbus.MakeVariant(true),
			},
		},
		charPath: {
			"org.bluez.GattCharacteristic1": {
				"UUID":    dbus.MakeVariant(charUUID),
				"Service": dbus.MakeVariant(servicePath),
				"Flags":   dbus.MakeVariant([]string{"read", "write-without-response", "notify"}),
			},
		},
		cccdPath: {
			"org.bluez.GattDescriptor1": {
				"UUID":           dbus.MakeVariant(cccdUUID),
				"Characteristic": dbus.MakeVariant(charPath),
			},
		},
	}
	return out, nil
}

// noMethods satisfies interfaces whose methods are all properties-only
// (e.g. GattService1 has no D-Bus methods, only properties).
type noMethods struct{}

// characteristic implements org.bluez.GattCharacteristic1's method set.
type characteristic struct {
	app *application
}

func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	return c.app.lastValue, nil
}

func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if c.app.onWrite != nil {
		c.app.onWrite(value)
	}
	return nil
}

func (c *characteristic) StartNotify() *dbus.Error {
	c.app.mu.Lock()
	c.app.notifyEnabled = true
	c.app.mu.Unlock()
	slog.Debug("gatt: notifications enabled")
	return nil
}

func (c *characteristic) StopNotify() *dbus.Error {
	c.app.mu.Lock()
	c.app.notifyEnabled = false
	c.app.mu.Unlock()
	slog.Debug("gatt: notifications disabled")
	return nil
}

// descriptor implements org.bluez.GattDescriptor1 for the CCCD. BlueZ
// manages the actual subscription bit itself; Sync-Sonic only needs to
// answer reads/writes without error.
type descriptor struct{}

func (d *descriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return []byte{0x00, 0x00}, nil
}

func (d *descriptor) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	return nil
}
