package ultrasync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/sync-sonic-go/internal/models"
	"github.com/micro-nova/sync-sonic-go/internal/ultrasync"
)

type fakeSettings struct {
	settings map[string]models.Settings
}

func (f *fakeSettings) Settings(mac string) models.Settings {
	return f.settings[mac]
}

type fakeApplier struct {
	applied map[string]int
	fail    bool
}

func (f *fakeApplier) SetLatency(ctx context.Context, mac string, ms int) error {
	if f.fail {
		return assertErr
	}
	if f.applied == nil {
		f.applied = make(map[string]int)
	}
	f.applied[mac] = ms
	return nil
}

var assertErr = &models.AppError{Reason: "boom"}

func TestRunRejectsSameSpeakerTwice(t *testing.T) {
	s := ultrasync.New(&fakeSettings{}, &fakeApplier{}, &ultrasync.MockChirper{}, &ultrasync.MockRecorder{}, t.TempDir())
	_, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:01")
	require.Error(t, err)
	assert.Equal(t, "sync_needs_two_speakers", err.(*models.AppError).Reason)
}

func TestRunRejectsWhenMicUnavailable(t *testing.T) {
	s := ultrasync.New(&fakeSettings{}, &fakeApplier{}, &ultrasync.MockChirper{},
		&ultrasync.MockRecorder{NotAvailable: true}, t.TempDir())
	_, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02")
	require.Error(t, err)
	assert.Equal(t, "sync_no_mic", err.(*models.AppError).Reason)
}

func TestRunAppliesCorrectionWhenChirpBArrivesLate(t *testing.T) {
	rec := &ultrasync.MockRecorder{OffsetAMs: 100, OffsetBMs: 2230} // spacing=2000ms, +130ms drift
	applier := &fakeApplier{}
	reg := &fakeSettings{settings: map[string]models.Settings{
		"AA:BB:CC:DD:EE:01": {LatencyMs: 50},
	}}
	s := ultrasync.New(reg, applier, &ultrasync.MockChirper{}, rec, t.TempDir())

	result, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", result.LeadMAC)
	assert.InDelta(t, 130, result.DeltaMs, 25)
	assert.NotZero(t, applier.applied["AA:BB:CC:DD:EE:01"])
	assert.NotEmpty(t, result.DebugBundle)
}

func TestRunSkipsCorrectionBelowMinStep(t *testing.T) {
	rec := &ultrasync.MockRecorder{OffsetAMs: 100, OffsetBMs: 2100} // ~in sync
	applier := &fakeApplier{}
	reg := &fakeSettings{settings: map[string]models.Settings{}}
	s := ultrasync.New(reg, applier, &ultrasync.MockChirper{}, rec, t.TempDir())

	_, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)
	assert.Empty(t, applier.applied)
}

func TestRunRejectsConcurrentSync(t *testing.T) {
	rec := &ultrasync.MockRecorder{OffsetAMs: 100, OffsetBMs: 2100}
	s := ultrasync.New(&fakeSettings{}, &fakeApplier{}, &ultrasync.MockChirper{}, rec, t.TempDir())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02")
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	_, err := s.Run(context.Background(), "AA:BB:CC:DD:EE:03", "AA:BB:CC:DD:EE:04")
	require.Error(t, err)
	assert.Equal(t, "sync_in_progress", err.(*models.AppError).Reason)
	<-errCh
}
