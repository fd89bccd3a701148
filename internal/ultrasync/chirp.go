package ultrasync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SinkResolver maps a speaker MAC to the PulseAudio sink id it is routed
// to, the same lookup fsm.Backend.SinkID performs for C4's Route step.
type SinkResolver interface {
	SinkID(mac string) (string, error)
}

// findBinary searches PATH then /usr/bin, matching audio.findBinary's
// search order (kept as a small local copy since that helper is
// unexported in package audio).
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

// PulseChirper emits a synthesized tone through a speaker's sink via
// paplay, shelling out and blocking until playback completes.
type PulseChirper struct {
	resolver SinkResolver
}

// NewPulseChirper creates a PulseChirper.
func NewPulseChirper(resolver SinkResolver) *PulseChirper {
	return &PulseChirper{resolver: resolver}
}

// PlayChirp synthesizes a tone to a scratch WAV file and plays it through
// mac's resolved sink, blocking until playback completes or ctx expires.
func (c *PulseChirper) PlayChirp(ctx context.Context, mac string, freqHz float64, d time.Duration) error {
	sink, err := c.resolver.SinkID(mac)
	if err != nil || sink == "" {
		return fmt.Errorf("ultrasync: no sink for %s: %w", mac, err)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("syncsonic-chirp-%s.wav", uuid.NewString()))
	if err := synthesizeChirpWAV(path, freqHz, d); err != nil {
		return fmt.Errorf("ultrasync: synthesize chirp: %w", err)
	}
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, findBinary("paplay"), "--device="+sink, path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ultrasync: paplay: %w", err)
	}
	return nil
}

// MockChirper records PlayChirp calls for tests instead of shelling out.
type MockChirper struct {
	Calls []ChirpCall
	Fail  bool
}

// ChirpCall records one PlayChirp invocation.
type ChirpCall struct {
	MAC   string
	Freq  float64
	Delay time.Duration
}

func (m *MockChirper) PlayChirp(ctx context.Context, mac string, freqHz float64, d time.Duration) error {
	if m.Fail {
		return fmt.Errorf("mock chirp failure")
	}
	m.Calls = append(m.Calls, ChirpCall{MAC: mac, Freq: freqHz, Delay: d})
	return nil
}
