package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/registry"
)

func TestUpsertCreatesAndUpdates(t *testing.T) {
	r := registry.New()

	s := r.Upsert("aa-bb-cc-dd-ee-01", "Kitchen", -40, "/org/bluez/hci1")
	assert.Equal(t, "AA:BB:CC:DD:EE:01", s.MAC)
	assert.Equal(t, "Kitchen", s.Name)
	assert.Equal(t, -40, s.RSSI)

	s2 := r.Upsert("AA:BB:CC:DD:EE:01", "", -35, "")
	assert.Equal(t, "Kitchen", s2.Name, "empty name must not overwrite")
	assert.Equal(t, -35, s2.RSSI)
	assert.Equal(t, "/org/bluez/hci1", s2.Adapter, "empty adapter must not overwrite")
}

func TestMarkPairedAndTrusted(t *testing.T) {
	r := registry.New()
	r.MarkPaired("AA:BB:CC:DD:EE:02", true)
	r.MarkTrusted("AA:BB:CC:DD:EE:02", true)

	got, ok := r.Get("aa:bb:cc:dd:ee:02")
	assert.True(t, ok)
	assert.True(t, got.Paired)
	assert.True(t, got.Trusted)
}

func TestPairedListOnlyIncludesPaired(t *testing.T) {
	r := registry.New()
	r.MarkPaired("AA:BB:CC:DD:EE:01", true)
	r.Upsert("AA:BB:CC:DD:EE:02", "Unpaired", 0, "")

	list := r.PairedList()
	assert.Len(t, list, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", list[0].MAC)
}

func TestSettingsDefaultAndClampOnSet(t *testing.T) {
	r := registry.New()

	def := r.Settings("AA:BB:CC:DD:EE:03")
	assert.Equal(t, 100, def.Volume)

	clamped := r.SetSettings("AA:BB:CC:DD:EE:03", models.Settings{Volume: 500, Balance: -1, LatencyMs: 9999})
	assert.Equal(t, 100, clamped.Volume)
	assert.Equal(t, 0.0, clamped.Balance)
	assert.Equal(t, 500, clamped.LatencyMs)

	got := r.Settings("AA:BB:CC:DD:EE:03")
	assert.Equal(t, clamped, got)
}

func TestSetSettingsIsIdempotent(t *testing.T) {
	r := registry.New()
	want := models.Settings{Volume: 42, Balance: 0.3, LatencyMs: 10}
	r.SetSettings("AA:BB:CC:DD:EE:04", want)
	got := r.SetSettings("AA:BB:CC:DD:EE:04", want)
	assert.Equal(t, want, got)
}

func TestRemoveDeletesRecord(t *testing.T) {
	r := registry.New()
	r.MarkPaired("AA:BB:CC:DD:EE:05", true)
	r.Remove("AA:BB:CC:DD:EE:05")

	_, ok := r.Get("AA:BB:CC:DD:EE:05")
	assert.False(t, ok)
}
