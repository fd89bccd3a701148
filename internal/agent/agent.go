// Package agent implements the Pairing Agent (C3): BlueZ's no-input/
// no-output Agent1 contract, exported over the system bus and registered
// as the default agent so classic-Bluetooth speakers can pair without a
// user confirming a passkey on a display that doesn't exist.
package agent

import (
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	agentPath = dbus.ObjectPath("/org/syncsonic/agent")
	agentCap  = "NoInputNoOutput"
)

// Agent auto-confirms pairing and service-authorization requests for any
// device except the reserved adapter's own remote identity, which it
// rejects — it only pairs with speakers.
type Agent struct {
	conn           *dbus.Conn
	reservedRemote string // object path of the reserved adapter's own address, if known
}

// New creates an Agent. reservedRemote may be empty if unknown at
// construction time; set it via SetReservedRemote once resolved.
func New(conn *dbus.Conn, reservedRemote string) *Agent {
	return &Agent{conn: conn, reservedRemote: reservedRemote}
}

// SetReservedRemote updates the object-path prefix the Agent refuses to
// service, used once C1 resolves the reserved adapter's identity.
func (a *Agent) SetReservedRemote(path string) { a.reservedRemote = path }

// Register exports the Agent1 implementation and registers it with
// BlueZ's AgentManager1 as the default, no-input/no-output agent.
func (a *Agent) Register() error {
	if err := a.conn.Export(a, agentPath, "org.bluez.Agent1"); err != nil {
		return err
	}
	mgr := a.conn.Object("org.bluez", dbus.ObjectPath("/org/bluez"))
	if call := mgr.Call("org.bluez.AgentManager1.RegisterAgent", 0, agentPath, agentCap); call.Err != nil {
		return call.Err
	}
	if call := mgr.Call("org.bluez.AgentManager1.RequestDefaultAgent", 0, agentPath); call.Err != nil {
		return call.Err
	}
	slog.Info("agent: registered as default BlueZ agent", "path", string(agentPath))
	return nil
}

// Unregister removes the Agent from BlueZ and stops exporting it.
func (a *Agent) Unregister() {
	mgr := a.conn.Object("org.bluez", dbus.ObjectPath("/org/bluez"))
	if call := mgr.Call("org.bluez.AgentManager1.UnregisterAgent", 0, agentPath); call.Err != nil {
		slog.Warn("agent: unregister failed", "err", call.Err)
	}
	_ = a.conn.Export(nil, agentPath, "org.bluez.Agent1")
}

func (a *Agent) isReservedRemote(device dbus.ObjectPath) bool {
	return a.reservedRemote != "" && strings.HasPrefix(string(device), a.reservedRemote)
}

// Release is invoked when the agent is unregistered.
func (a *Agent) Release() *dbus.Error { return nil }

// RequestPinCode is unused — NoInputNoOutput agents never receive it, but
// BlueZ requires the method to exist on the exported interface.
func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError("org.bluez.Error.Rejected", nil)
}

// DisplayPinCode is unused for the same reason as RequestPinCode.
func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

// RequestPasskey is unused for a NoInputNoOutput agent.
func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, dbus.NewError("org.bluez.Error.Rejected", nil)
}

// DisplayPasskey is unused for a NoInputNoOutput agent.
func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

// RequestConfirmation auto-confirms pairing for any remote except the
// reserved adapter's own identity.
func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	if a.isReservedRemote(device) {
		slog.Warn("agent: refusing confirmation for the reserved adapter's own remote", "device", device)
		return dbus.NewError("org.bluez.Error.Rejected", nil)
	}
	slog.Debug("agent: auto-confirming pairing", "device", device, "passkey", passkey)
	return nil
}

// RequestAuthorization auto-authorizes, same exception as RequestConfirmation.
func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	if a.isReservedRemote(device) {
		return dbus.NewError("org.bluez.Error.Rejected", nil)
	}
	return nil
}

// AuthorizeService auto-authorizes any service (A2DP sink included) for
// every device, same exception as RequestConfirmation. It does not check
// whether the device is a known speaker.
func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	if a.isReservedRemote(device) {
		return dbus.NewError("org.bluez.Error.Rejected", nil)
	}
	slog.Debug("agent: authorizing service", "device", device, "uuid", uuid)
	return nil
}

// Cancel is invoked by BlueZ to abort an in-flight agent request.
func (a *Agent) Cancel() *dbus.Error { return nil }
