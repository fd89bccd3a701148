package fsm

import "context"

// Backend performs the actual BlueZ operations an FSM instance drives
// through. Separating it from Instance keeps the state machine's retry and
// timeout bookkeeping unit-testable without a system bus.
type Backend interface {
	// Discover blocks (up to the caller's context deadline) until mac is
	// seen on adapterPath, or returns false if it times out first.
	Discover(ctx context.Context, adapterPath, mac string) (found bool, err error)

	// AlreadyPaired reports whether BlueZ already holds pairing keys for mac.
	AlreadyPaired(ctx context.Context, adapterPath, mac string) bool

	// Pair invokes org.bluez.Device1.Pair on mac.
	Pair(ctx context.Context, adapterPath, mac string) error

	// SetTrusted sets org.bluez.Device1.Trusted.
	SetTrusted(ctx context.Context, adapterPath, mac string) error

	// Connect invokes org.bluez.Device1.ConnectProfile for the A2DP sink UUID.
	Connect(ctx context.Context, adapterPath, mac string) error

	// Disconnect invokes org.bluez.Device1.Disconnect.
	Disconnect(ctx context.Context, adapterPath, mac string) error

	// SinkID returns the PulseAudio sink id that corresponds to mac's A2DP
	// connection, once Connect has succeeded.
	SinkID(adapterPath, mac string) string
}
