// Package audio implements the Audio Router (C4): it applies a speaker's
// connected-and-routed audio path by driving PulseAudio's module-loopback
// mechanism, and computes the stereo balance split used by SetVolume.
package audio

import (
	"context"

	"github.com/micro-nova/sync-sonic-go/internal/config"
)

// Router is the audio backend Sync-Sonic drives once a speaker reaches the
// connected-and-routed substate.
type Router interface {
	// Route creates a loopback from the system's default source to sinkID,
	// which must correspond to mac's Bluetooth sink.
	Route(ctx context.Context, mac, sinkID string) error

	// Unroute tears down mac's loopback, if any.
	Unroute(ctx context.Context, mac string) error

	// SetVolume applies volume (0..100) and balance (0..1) to mac's loopback.
	SetVolume(ctx context.Context, mac string, volume int, balance float64) error

	// SetLatency sets mac's loopback playback-buffer target in milliseconds.
	SetLatency(ctx context.Context, mac string, latencyMs int) error

	// SetMute mutes or unmutes mac's loopback without discarding its volume.
	SetMute(ctx context.Context, mac string, muted bool) error
}

// ChannelGains implements the stereo balance law: b=0.5 is center, b=0
// routes entirely left, b=1 routes entirely right, and at center
// left_gain+right_gain equals volume.
func ChannelGains(volume int, balance float64) (left, right float64) {
	v := float64(volume)
	b := balance
	switch {
	case b < 0:
		b = 0
	case b > 1:
		b = 1
	}
	left = v * min1(2*(1-b))
	right = v * min1(2*b)
	return left, right
}

func min1(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}

// ApplyVolumeCurve maps the linear 0..100 volume onto pactl's percent
// argument per the curve selected by SYNCSONIC_VOLUME_CURVE.
func ApplyVolumeCurve(curve config.VolumeCurve, volume int) int {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	if curve != config.VolumeCurveCubic {
		return volume
	}
	frac := float64(volume) / 100.0
	return int(frac * frac * frac * 100.0)
}
