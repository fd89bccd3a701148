package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/config"
	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// findBinary searches for a binary by name in order: PATH, /usr/bin/<name>.
func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	p := filepath.Join("/usr/bin", name)
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p
	}
	return name
}

type loopback struct {
	moduleIndex string
	sinkID      string
	volume      int
	balance     float64
	muted       bool
}

// PulseRouter drives PulseAudio's module-loopback via pactl: shell out,
// remember the handle it returns, tear it down explicitly on Unroute.
type PulseRouter struct {
	curve config.VolumeCurve

	mu        sync.Mutex
	loopbacks map[string]*loopback // mac → loopback
}

// NewPulseRouter creates a PulseRouter using the given volume curve.
func NewPulseRouter(curve config.VolumeCurve) *PulseRouter {
	return &PulseRouter{curve: curve, loopbacks: make(map[string]*loopback)}
}

func (r *PulseRouter) runPactl(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, findBinary("pactl"), args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pactl %v: %w", args, err)
	}
	return string(out), nil
}

// Route loads a module-loopback pairing the default source to sinkID and
// records the loaded module index so Unroute can unload exactly it.
func (r *PulseRouter) Route(ctx context.Context, mac, sinkID string) error {
	mac = models.CanonicalMAC(mac)
	out, err := r.runPactl(ctx, "load-module", "module-loopback",
		"sink="+sinkID, "latency_msec=40")
	if err != nil {
		return models.ErrLoopbackFailed(mac)
	}
	idx := trimModuleIndex(out)

	r.mu.Lock()
	r.loopbacks[mac] = &loopback{moduleIndex: idx, sinkID: sinkID, volume: 100, balance: 0.5}
	r.mu.Unlock()
	return nil
}

// Unroute unloads mac's loopback module, if one is loaded.
func (r *PulseRouter) Unroute(ctx context.Context, mac string) error {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	lb, ok := r.loopbacks[mac]
	if ok {
		delete(r.loopbacks, mac)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := r.runPactl(ctx, "unload-module", lb.moduleIndex); err != nil {
		return models.ErrLoopbackFailed(mac)
	}
	return nil
}

// SetVolume applies volume/balance to mac's sink via pactl's per-channel
// volume argument, implementing the ChannelGains balance law.
func (r *PulseRouter) SetVolume(ctx context.Context, mac string, volume int, balance float64) error {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	lb, ok := r.loopbacks[mac]
	if ok {
		lb.volume = volume
		lb.balance = balance
	}
	r.mu.Unlock()
	if !ok {
		return models.ErrLoopbackFailed(mac)
	}

	left, right := ChannelGains(volume, balance)
	leftPct := ApplyVolumeCurve(r.curve, int(left))
	rightPct := ApplyVolumeCurve(r.curve, int(right))

	_, err := r.runPactl(ctx, "set-sink-volume", lb.sinkID,
		strconv.Itoa(leftPct)+"%", strconv.Itoa(rightPct)+"%")
	if err != nil {
		return models.ErrLoopbackFailed(mac)
	}
	return nil
}

// SetLatency reloads mac's loopback with the new latency_msec argument,
// since module-loopback does not expose a live-update property.
func (r *PulseRouter) SetLatency(ctx context.Context, mac string, latencyMs int) error {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	lb, ok := r.loopbacks[mac]
	r.mu.Unlock()
	if !ok {
		return models.ErrLoopbackFailed(mac)
	}

	if _, err := r.runPactl(ctx, "unload-module", lb.moduleIndex); err != nil {
		return models.ErrLoopbackFailed(mac)
	}
	out, err := r.runPactl(ctx, "load-module", "module-loopback",
		"sink="+lb.sinkID, "latency_msec="+strconv.Itoa(latencyMs))
	if err != nil {
		return models.ErrLoopbackFailed(mac)
	}

	r.mu.Lock()
	lb.moduleIndex = trimModuleIndex(out)
	r.mu.Unlock()
	return nil
}

// SetMute mutes or unmutes mac's sink without touching its stored volume,
// so a later unmute restores exactly the prior gain.
func (r *PulseRouter) SetMute(ctx context.Context, mac string, muted bool) error {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	lb, ok := r.loopbacks[mac]
	if ok {
		lb.muted = muted
	}
	r.mu.Unlock()
	if !ok {
		return models.ErrLoopbackFailed(mac)
	}

	arg := "0"
	if muted {
		arg = "1"
	}
	if _, err := r.runPactl(ctx, "set-sink-mute", lb.sinkID, arg); err != nil {
		return models.ErrLoopbackFailed(mac)
	}
	return nil
}

func trimModuleIndex(pactlOutput string) string {
	idx := 0
	for idx < len(pactlOutput) && pactlOutput[idx] >= '0' && pactlOutput[idx] <= '9' {
		idx++
	}
	if idx == 0 {
		return "0"
	}
	return pactlOutput[:idx]
}
