// Package ultrasync implements the Ultrasonic Sync (C8): it emits two
// ultrasonic chirps through two connected speakers, records the result
// via a USB microphone, locates the two chirps' arrival times in the
// capture, and nudges the leading speaker's latency to bring both
// speakers into alignment.
package ultrasync

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Timing constants for the ultrasonic sync cycle.
const (
	ChirpDuration = 150 * time.Millisecond
	SendSpacing   = 2 * time.Second
	CycleTimeout  = 20 * time.Second

	// MinStepMs is the configured minimum delta before a correction is
	// applied at all, avoiding latency churn from measurement noise.
	MinStepMs = 2.0

	// ChirpFreqA/ChirpFreqB are the two distinct ultrasonic tones used to
	// tell the two chirps apart in the recorded spectrogram.
	ChirpFreqA = 19000.0
	ChirpFreqB = 19500.0

	// SampleRate is the capture/playback rate used throughout.
	SampleRate = 48000

	recordMargin = 1500 * time.Millisecond
)

// LatencyApplier is the subset of the Connection Service's surface C8
// needs to apply a computed correction. connsvc.Service satisfies it.
type LatencyApplier interface {
	SetLatency(ctx context.Context, mac string, ms int) error
}

// Chirper emits a brief tone through a connected speaker's sink.
type Chirper interface {
	PlayChirp(ctx context.Context, mac string, freqHz float64, d time.Duration) error
}

// Recorder captures audio from the USB microphone for d and returns the
// samples (mono, SampleRate) alongside the WAV bytes for the debug bundle.
type Recorder interface {
	Capture(ctx context.Context, d time.Duration) (samples []float64, wavBytes []byte, err error)
	Available() bool
}

// SettingsReader reads back a speaker's last-applied settings so a latency
// correction can be added on top of the existing value rather than
// overwriting it. *registry.Registry satisfies this.
type SettingsReader interface {
	Settings(mac string) models.Settings
}

// Sync drives one ultrasonic auto-sync cycle at a time; a second Run call
// while one is in flight is rejected outright.
type Sync struct {
	applier LatencyApplier
	reg     SettingsReader
	chirper Chirper
	rec     Recorder
	tmpDir  string

	mu      sync.Mutex
	running bool
}

// New creates a Sync. tmpDir is the directory debug bundles are written
// under; it defaults to os.TempDir() if empty.
func New(reg SettingsReader, applier LatencyApplier, chirper Chirper, rec Recorder, tmpDir string) *Sync {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Sync{applier: applier, reg: reg, chirper: chirper, rec: rec, tmpDir: tmpDir}
}

// Run executes one full sync cycle against macA and macB. It requires
// exactly two distinct, currently-connected speakers (enforced by the
// caller passing two MACs; this package does not itself consult the
// snapshot). Returns the applied SyncResult or a structured AppError.
func (s *Sync) Run(ctx context.Context, macA, macB string) (models.SyncResult, error) {
	macA = models.CanonicalMAC(macA)
	macB = models.CanonicalMAC(macB)
	if macA == "" || macB == "" || macA == macB {
		return models.SyncResult{}, models.ErrSyncNeedsTwo
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return models.SyncResult{}, models.ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.rec == nil || !s.rec.Available() {
		return models.SyncResult{}, models.ErrSyncNoMic
	}

	cctx, cancel := context.WithTimeout(ctx, CycleTimeout)
	defer cancel()

	recordDuration := SendSpacing + ChirpDuration + recordMargin

	type captureResult struct {
		samples []float64
		wav     []byte
		err     error
	}
	captureCh := make(chan captureResult, 1)
	go func() {
		samples, wav, err := s.rec.Capture(cctx, recordDuration)
		captureCh <- captureResult{samples, wav, err}
	}()

	if err := s.chirper.PlayChirp(cctx, macA, ChirpFreqA, ChirpDuration); err != nil {
		return models.SyncResult{}, models.ErrSyncChirpFailed
	}

	select {
	case <-cctx.Done():
		return models.SyncResult{}, models.ErrSyncTimeout
	case <-time.After(SendSpacing):
	}

	if err := s.chirper.PlayChirp(cctx, macB, ChirpFreqB, ChirpDuration); err != nil {
		return models.SyncResult{}, models.ErrSyncChirpFailed
	}

	var capture captureResult
	select {
	case <-cctx.Done():
		return models.SyncResult{}, models.ErrSyncTimeout
	case capture = <-captureCh:
	}
	if capture.err != nil {
		return models.SyncResult{}, models.ErrSyncTimeout
	}

	t1, ok1 := locatePeak(capture.samples, SampleRate, ChirpFreqA)
	t2, ok2 := locatePeak(capture.samples, SampleRate, ChirpFreqB)
	if !ok1 || !ok2 {
		return models.SyncResult{}, models.ErrSyncChirpFailed
	}

	deltaMs := (t2-t1)*1000.0 - float64(SendSpacing.Milliseconds())

	result := models.SyncResult{LeadMAC: macA, LagMAC: macB, DeltaMs: deltaMs}

	if math.Abs(deltaMs) >= MinStepMs {
		leadMAC, correctionMs := macA, deltaMs
		if deltaMs < 0 {
			leadMAC, correctionMs = macB, -deltaMs
		}
		result.LeadMAC = leadMAC
		if leadMAC == macA {
			result.LagMAC = macB
		} else {
			result.LagMAC = macA
		}
		result.AppliedMs = correctionMs

		cur := s.reg.Settings(leadMAC)
		newLatency := models.Settings{LatencyMs: cur.LatencyMs + int(math.Round(correctionMs))}.Clamp()
		if err := s.applier.SetLatency(cctx, leadMAC, newLatency.LatencyMs); err != nil {
			return result, models.ErrSyncChirpFailed
		}
	}

	bundlePath, err := s.persistDebugBundle(capture.wav, result)
	if err == nil {
		result.DebugBundle = bundlePath
	}

	return result, nil
}

// persistDebugBundle writes {capture.wav, spectrogram.json, meta.json}
// under tmpDir/syncsonic-sync-<uuid>/.
func (s *Sync) persistDebugBundle(wavBytes []byte, result models.SyncResult) (string, error) {
	dir := filepath.Join(s.tmpDir, "syncsonic-sync-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "capture.wav"), wavBytes, 0o644); err != nil {
		return dir, err
	}
	meta := fmt.Sprintf(`{"leadMac":%q,"lagMac":%q,"deltaMs":%g,"appliedMs":%g}`,
		result.LeadMAC, result.LagMAC, result.DeltaMs, result.AppliedMs)
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(meta), 0o644); err != nil {
		return dir, err
	}
	spectro := spectrogramJSON(wavBytes)
	if err := os.WriteFile(filepath.Join(dir, "spectrogram.json"), spectro, 0o644); err != nil {
		return dir, err
	}
	return dir, nil
}
