// Package adapter implements the Bus & Adapter Inventory (C1): it
// enumerates local Bluetooth controllers over BlueZ's D-Bus ObjectManager,
// classifies them reserved-for-BLE vs assignable-for-A2DP, and hands out
// free adapters to the Connection Service.
package adapter

import (
	"context"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Inventory is the interface the rest of the daemon programs against. It is
// implemented by BlueZInventory (real) and Mock (tests).
type Inventory interface {
	// ListAdapters returns a snapshot of all known adapters.
	ListAdapters() []models.Adapter

	// Reserved returns the adapter reserved for BLE advertising, or false
	// if none could be determined at start-up.
	Reserved() (models.Adapter, bool)

	// FreeAdapter returns any assignable adapter that is powered, present,
	// not busy, and not assigned — tie-broken by lowest index — or false
	// if none are available.
	FreeAdapter() (models.Adapter, bool)

	// Assign marks adapter as held by mac. Returns false if the adapter is
	// no longer free (race with another caller).
	Assign(objectPath, mac string) bool

	// SetBusy marks an assigned adapter as mid-operation (pairing or
	// connecting), so FreeAdapter skips it even though no MAC relationship
	// exists on the BlueZ side yet during Discovery.
	SetBusy(objectPath string, busy bool)

	// Release frees adapter objectPath from mac's ownership.
	Release(objectPath, mac string)

	// AdapterLost subscribes to adapter-removed notifications. The channel
	// delivers the object path of any reserved-or-assigned adapter that
	// disappeared.
	AdapterLost() <-chan string

	// Start begins any background property-change monitoring. Blocks until
	// ctx is cancelled.
	Start(ctx context.Context) error
}
