package gatt

import "github.com/godbus/dbus/v5"

const advertPath = dbus.ObjectPath("/org/syncsonic/advertisement0")

// advertisement implements org.bluez.LEAdvertisement1, registered only on
// the reserved adapter.
type advertisement struct{}

func (a *advertisement) Release() *dbus.Error { return nil }

func exportAdvertisement(conn *dbus.Conn) error {
	props := map[string]dbus.Variant{
		"Type":        dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{serviceUUID}),
		"LocalName":   dbus.MakeVariant(advertisedName),
	}
	if err := conn.Export(&advertisement{}, advertPath, "org.bluez.LEAdvertisement1"); err != nil {
		return err
	}
	return conn.Export(staticPropertyGetter(props), advertPath, "org.freedesktop.DBus.Properties")
}

// registerAdvertisement calls LEAdvertisingManager1.RegisterAdvertisement
// on the reserved adapter's object path.
func registerAdvertisement(conn *dbus.Conn, reservedAdapterPath string) error {
	mgr := conn.Object("org.bluez", dbus.ObjectPath(reservedAdapterPath))
	call := mgr.Call("org.bluez.LEAdvertisingManager1.RegisterAdvertisement", 0,
		advertPath, map[string]dbus.Variant{})
	return call.Err
}

// staticPropertyGetter answers org.freedesktop.DBus.Properties.Get/GetAll
// from a fixed map, since the advertisement's properties never change
// after export.
type staticPropertyGetter map[string]dbus.Variant

func (p staticPropertyGetter) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	v, ok := p[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
	}
	return v, nil
}

func (p staticPropertyGetter) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return map[string]dbus.Variant(p), nil
}

func (p staticPropertyGetter) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", nil)
}
