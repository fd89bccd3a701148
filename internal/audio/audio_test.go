package audio_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/sync-sonic-go/internal/audio"
	"github.com/micro-nova/sync-sonic-go/internal/config"
)

func TestChannelGainsCenterSumsToVolume(t *testing.T) {
	left, right := audio.ChannelGains(80, 0.5)
	assert.InDelta(t, 80.0, left+right, 0.001)
	assert.InDelta(t, left, right, 0.001)
}

func TestChannelGainsFullLeft(t *testing.T) {
	left, right := audio.ChannelGains(80, 0)
	assert.InDelta(t, 80.0, left, 0.001)
	assert.InDelta(t, 0.0, right, 0.001)
}

func TestChannelGainsFullRight(t *testing.T) {
	left, right := audio.ChannelGains(80, 1)
	assert.InDelta(t, 0.0, left, 0.001)
	assert.InDelta(t, 80.0, right, 0.001)
}

func TestApplyVolumeCurveLinearIsIdentity(t *testing.T) {
	assert.Equal(t, 42, audio.ApplyVolumeCurve(config.VolumeCurveLinear, 42))
}

func TestApplyVolumeCurveCubicScalesDown(t *testing.T) {
	got := audio.ApplyVolumeCurve(config.VolumeCurveCubic, 50)
	assert.Less(t, got, 50)
	assert.Equal(t, 100, audio.ApplyVolumeCurve(config.VolumeCurveCubic, 100))
	assert.Equal(t, 0, audio.ApplyVolumeCurve(config.VolumeCurveCubic, 0))
}

func TestMockRouterRouteSetVolumeUnroute(t *testing.T) {
	r := audio.NewMockRouter(config.VolumeCurveLinear)
	ctx := context.Background()
	mac := "AA:BB:CC:DD:EE:01"

	require.NoError(t, r.Route(ctx, mac, "bluez_sink.AA_BB_CC_DD_EE_01"))
	assert.True(t, r.IsRouted(mac))

	require.NoError(t, r.SetVolume(ctx, mac, 60, 0.25))
	s, ok := r.State(mac)
	require.True(t, ok)
	assert.Equal(t, 60, s.Volume)
	assert.Equal(t, 0.25, s.Balance)

	require.NoError(t, r.Unroute(ctx, mac))
	assert.False(t, r.IsRouted(mac))
}

func TestMockRouterOperationsOnUnroutedFail(t *testing.T) {
	r := audio.NewMockRouter(config.VolumeCurveLinear)
	ctx := context.Background()
	err := r.SetVolume(ctx, "AA:BB:CC:DD:EE:99", 50, 0.5)
	assert.Error(t, err)
}

func TestMockRouterMutePreservesVolume(t *testing.T) {
	r := audio.NewMockRouter(config.VolumeCurveLinear)
	ctx := context.Background()
	mac := "AA:BB:CC:DD:EE:02"
	require.NoError(t, r.Route(ctx, mac, "sink"))
	require.NoError(t, r.SetVolume(ctx, mac, 70, 0.5))

	require.NoError(t, r.SetMute(ctx, mac, true))
	s, _ := r.State(mac)
	assert.True(t, s.Muted)
	assert.Equal(t, 70, s.Volume, "mute must not clear the stored volume")

	require.NoError(t, r.SetMute(ctx, mac, false))
	s, _ = r.State(mac)
	assert.False(t, s.Muted)
	assert.Equal(t, 70, s.Volume)
}

func TestMockRouterRouteFailureSurfacesLoopbackFailed(t *testing.T) {
	r := audio.NewMockRouter(config.VolumeCurveLinear)
	r.FailRoute = true
	err := r.Route(context.Background(), "AA:BB:CC:DD:EE:03", "sink")
	assert.Error(t, err)
}
