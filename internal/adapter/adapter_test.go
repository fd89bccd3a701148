package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/models"
)

func fixtureAdapters() []models.Adapter {
	return []models.Adapter{
		{Index: 0, ObjectPath: "/org/bluez/hci0", Name: "onboard", Bus: models.BusUART, Powered: true, Role: models.RoleReservedBLE},
		{Index: 1, ObjectPath: "/org/bluez/hci1", Name: "dongle-1", Bus: models.BusUSB, Powered: true, Role: models.RoleAssignableA2DP},
		{Index: 2, ObjectPath: "/org/bluez/hci2", Name: "dongle-2", Bus: models.BusUSB, Powered: true, Role: models.RoleAssignableA2DP},
	}
}

func TestMockReservedAdapterInvariant(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	reserved, ok := m.Reserved()
	require.True(t, ok)
	assert.Equal(t, "/org/bluez/hci0", reserved.ObjectPath)
	assert.Equal(t, models.RoleReservedBLE, reserved.Role)
}

func TestMockFreeAdapterTieBreaksOnLowestIndex(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	free, ok := m.FreeAdapter()
	require.True(t, ok)
	assert.Equal(t, "/org/bluez/hci1", free.ObjectPath)
}

func TestMockFreeAdapterSkipsReserved(t *testing.T) {
	m := adapter.NewMock([]models.Adapter{
		{Index: 0, ObjectPath: "/org/bluez/hci0", Powered: true, Role: models.RoleReservedBLE},
	})
	_, ok := m.FreeAdapter()
	assert.False(t, ok, "reserved-only inventory must never offer a free adapter")
}

func TestMockAssignReleaseLifecycle(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	free, ok := m.FreeAdapter()
	require.True(t, ok)

	assert.True(t, m.Assign(free.ObjectPath, "AA:BB:CC:DD:EE:01"))

	_, ok = m.FreeAdapter()
	require.True(t, ok, "second adapter should still be free")

	assert.False(t, m.Assign(free.ObjectPath, "AA:BB:CC:DD:EE:02"), "double-assign must fail")

	m.SetBusy(free.ObjectPath, true)
	all := m.ListAdapters()
	var busyFound bool
	for _, a := range all {
		if a.ObjectPath == free.ObjectPath {
			busyFound = a.Busy
		}
	}
	assert.True(t, busyFound)

	m.Release(free.ObjectPath, "AA:BB:CC:DD:EE:01")
	reAssignable, ok := m.FreeAdapter()
	require.True(t, ok)
	assert.Equal(t, free.ObjectPath, reAssignable.ObjectPath)
}

func TestMockReleaseWrongMACIsNoop(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	free, _ := m.FreeAdapter()
	m.Assign(free.ObjectPath, "AA:BB:CC:DD:EE:01")

	m.Release(free.ObjectPath, "AA:BB:CC:DD:EE:99")

	next, ok := m.FreeAdapter()
	require.True(t, ok, "the second assignable adapter is still free")
	assert.NotEqual(t, free.ObjectPath, next.ObjectPath, "wrong-MAC release must not free the adapter")
}

func TestMockAdapterLostNotifiesAndMarksAbsent(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	lostCh := m.AdapterLost()

	m.SimulateLoss("/org/bluez/hci1")

	select {
	case path := <-lostCh:
		assert.Equal(t, "/org/bluez/hci1", path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for adapter-lost notification")
	}

	for _, a := range m.ListAdapters() {
		if a.ObjectPath == "/org/bluez/hci1" {
			assert.False(t, a.Present)
		}
	}
}

func TestMockStartBlocksUntilCancelled(t *testing.T) {
	m := adapter.NewMock(fixtureAdapters())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	select {
	case <-done:
		t.Fatal("Start returned before context was cancelled")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
