package ultrasync

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// MicRecorder captures from the USB microphone via arecord, the ALSA
// command-line capture tool, the same shell-out pattern as
// audio.PulseRouter's pactl calls.
type MicRecorder struct {
	// Device is the ALSA capture device name, e.g. "plughw:1,0" for the
	// first non-default USB mic. Empty uses ALSA's default device.
	Device string
}

// Available reports whether a capture device can be opened. It is cheap:
// checks that arecord exists, that /proc/asound/cards is readable (via a
// direct unix.Access permission check), and that at least one listed card
// looks like a USB microphone.
func (m *MicRecorder) Available() bool {
	if findBinary("arecord") == "arecord" {
		if _, err := exec.LookPath("arecord"); err != nil {
			return false
		}
	}
	const cardsFile = "/proc/asound/cards"
	if unix.Access(cardsFile, unix.R_OK) != nil {
		return false
	}
	data, err := os.ReadFile(cardsFile)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte("USB"))
}

// Capture records d of audio to a scratch WAV file via arecord, then
// decodes it into normalized samples and returns the raw WAV bytes for
// the debug bundle.
func (m *MicRecorder) Capture(ctx context.Context, d time.Duration) ([]float64, []byte, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("syncsonic-capture-%s.wav", uuid.NewString()))
	defer os.Remove(path)

	args := []string{
		"-f", "S16_LE",
		"-r", strconv.Itoa(SampleRate),
		"-c", "1",
		"-d", strconv.FormatFloat(d.Seconds(), 'f', 2, 64),
		"-t", "wav",
	}
	if m.Device != "" {
		args = append([]string{"-D", m.Device}, args...)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, findBinary("arecord"), args...)
	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("ultrasync: arecord: %w", err)
	}

	samples, _, err := decodeWAVFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ultrasync: decode capture: %w", err)
	}
	wavBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return samples, wavBytes, nil
}

// MockRecorder synthesizes a capture containing the two expected chirps
// at a caller-set offset, for deterministic tests of the peak-location
// and correction-application logic without real audio hardware.
type MockRecorder struct {
	// OffsetAMs/OffsetBMs place each chirp's onset within the capture.
	OffsetAMs, OffsetBMs float64
	NotAvailable         bool
}

func (m *MockRecorder) Available() bool { return !m.NotAvailable }

func (m *MockRecorder) Capture(ctx context.Context, d time.Duration) ([]float64, []byte, error) {
	n := int(d.Seconds() * float64(SampleRate))
	samples := make([]float64, n)
	addTone(samples, m.OffsetAMs, ChirpFreqA)
	addTone(samples, m.OffsetBMs, ChirpFreqB)
	return samples, []byte{}, nil
}

func addTone(samples []float64, offsetMs float64, freqHz float64) {
	start := int(offsetMs / 1000.0 * float64(SampleRate))
	n := int(ChirpDuration.Seconds() * float64(SampleRate))
	for i := 0; i < n && start+i < len(samples); i++ {
		t := float64(i) / float64(SampleRate)
		samples[start+i] += 0.5 * math.Sin(2*math.Pi*freqHz*t)
	}
}
