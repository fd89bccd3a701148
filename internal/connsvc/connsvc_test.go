package connsvc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/sync-sonic-go/internal/adapter"
	"github.com/micro-nova/sync-sonic-go/internal/audio"
	"github.com/micro-nova/sync-sonic-go/internal/config"
	"github.com/micro-nova/sync-sonic-go/internal/connsvc"
	"github.com/micro-nova/sync-sonic-go/internal/events"
	"github.com/micro-nova/sync-sonic-go/internal/fsm"
	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.PhaseEvent
}

func (n *recordingNotifier) NotifyPhase(e models.PhaseEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) has(phase string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Phase == phase {
			return true
		}
	}
	return false
}

func newService(t *testing.T) (*connsvc.Service, *recordingNotifier) {
	t.Helper()
	inv := adapter.NewMock([]models.Adapter{
		{Index: 0, ObjectPath: "/org/bluez/hci0", Role: models.RoleReservedBLE, Powered: true},
		{Index: 1, ObjectPath: "/org/bluez/hci1", Role: models.RoleAssignableA2DP, Powered: true},
	})
	reg := registry.New()
	router := audio.NewMockRouter(config.VolumeCurveLinear)
	backend := fsm.NewMockBackend()
	bus := events.NewBus()
	notifier := &recordingNotifier{}
	svc := connsvc.New(context.Background(), inv, reg, router, backend, bus, notifier)
	return svc, notifier
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestServiceConnectReachesSnapshot(t *testing.T) {
	svc, notifier := newService(t)
	require.NoError(t, svc.Connect("AA:BB:CC:DD:EE:01", "Kitchen", models.Settings{Volume: 50, Balance: 0.5}, nil))

	waitFor(t, func() bool {
		snap := svc.Snapshot()
		return len(snap.Connected) == 1
	})
	assert.True(t, notifier.has(models.PhaseConnectSuccess))
}

func TestServiceConnectRejectsMACOutsideAllowed(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Connect("AA:BB:CC:DD:EE:02", "Bath", models.Settings{}, []string{"AA:BB:CC:DD:EE:99"})
	require.Error(t, err)
}

func TestServiceConnectAllowsMACInAllowed(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Connect("AA:BB:CC:DD:EE:03", "Den", models.Settings{}, []string{"AA:BB:CC:DD:EE:03"})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(svc.Snapshot().Connected) == 1 })
}

func TestServiceDisconnectClearsSnapshot(t *testing.T) {
	svc, notifier := newService(t)
	require.NoError(t, svc.Connect("AA:BB:CC:DD:EE:04", "Loft", models.Settings{}, nil))
	waitFor(t, func() bool { return len(svc.Snapshot().Connected) == 1 })

	require.NoError(t, svc.Disconnect(context.Background(), "AA:BB:CC:DD:EE:04"))
	assert.Empty(t, svc.Snapshot().Connected)
	assert.True(t, notifier.has(models.PhaseDisconnectDone))
}

func TestServiceSetVolumeAfterConnect(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.Connect("AA:BB:CC:DD:EE:05", "Attic", models.Settings{}, nil))
	waitFor(t, func() bool { return len(svc.Snapshot().Connected) == 1 })

	require.NoError(t, svc.SetVolume(context.Background(), "AA:BB:CC:DD:EE:05", 33, 0.25))
}
