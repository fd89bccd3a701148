package ultrasync

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// stftWindow/stftHop control the sliding-window FFT used to locate a
// chirp's arrival time: narrow enough to resolve ChirpDuration, with 50%
// overlap so a brief tone isn't missed between windows.
const (
	stftWindow = 1024
	stftHop    = stftWindow / 2
)

// locatePeak runs a sliding-window FFT over samples (at sampleRate Hz) and
// returns the time, in seconds from the start of the capture, of the
// window with the strongest energy at freqHz. ok is false if samples is
// too short to analyze.
func locatePeak(samples []float64, sampleRate int, freqHz float64) (seconds float64, ok bool) {
	mags := magnitudeSeries(samples, sampleRate, freqHz)
	if len(mags) == 0 {
		return 0, false
	}
	bestIdx := 0
	bestMag := mags[0]
	for i, m := range mags {
		if m > bestMag {
			bestMag = m
			bestIdx = i
		}
	}
	windowCenter := float64(bestIdx*stftHop) + float64(stftWindow)/2
	return windowCenter / float64(sampleRate), true
}

// magnitudeSeries computes, for each hop-spaced window, the FFT magnitude
// of the bin nearest freqHz.
func magnitudeSeries(samples []float64, sampleRate int, freqHz float64) []float64 {
	if len(samples) < stftWindow {
		return nil
	}
	fft := fourier.NewFFT(stftWindow)
	binHz := float64(sampleRate) / float64(stftWindow)
	bin := int(math.Round(freqHz / binHz))

	windowed := make([]float64, stftWindow)
	out := make([]float64, 0, (len(samples)-stftWindow)/stftHop+1)
	for start := 0; start+stftWindow <= len(samples); start += stftHop {
		applyHann(samples[start:start+stftWindow], windowed)
		coeffs := fft.Coefficients(nil, windowed)
		if bin >= len(coeffs) {
			out = append(out, 0)
			continue
		}
		out = append(out, cmplxAbs(coeffs[bin]))
	}
	return out
}

func applyHann(src, dst []float64) {
	n := len(src)
	for i, v := range src {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		dst[i] = v * w
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// spectrogramJSON renders a coarse magnitude-over-time series for the
// ultrasonic band, for the debug bundle's spectrogram.json. It is
// diagnostic only; sync correctness depends on locatePeak, not this file.
func spectrogramJSON(wavBytes []byte) []byte {
	samples, sampleRate, err := decodeWAVSamples(wavBytes)
	if err != nil || len(samples) < stftWindow {
		out, _ := json.Marshal(map[string]any{"bins": []float64{}})
		return out
	}
	a := magnitudeSeries(samples, sampleRate, ChirpFreqA)
	b := magnitudeSeries(samples, sampleRate, ChirpFreqB)
	out, _ := json.Marshal(map[string]any{
		"sampleRate": sampleRate,
		"chirpAMag":  a,
		"chirpBMag":  b,
	})
	return out
}
