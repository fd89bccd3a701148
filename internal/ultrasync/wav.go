package ultrasync

import (
	"bytes"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const chirpAmplitude = 0.8 * 32767

// synthesizeChirpWAV writes a mono sine-wave tone at freqHz for duration d
// to path, at SampleRate/16-bit.
func synthesizeChirpWAV(path string, freqHz float64, d time.Duration) error {
	n := int(d.Seconds() * float64(SampleRate))
	data := make([]int, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(SampleRate)
		data[i] = int(chirpAmplitude * math.Sin(2*math.Pi*freqHz*t))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// decodeWAVFile reads a WAV file from disk into normalized float64 samples
// in [-1, 1] alongside its sample rate.
func decodeWAVFile(path string) (samples []float64, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return decodeWAVReader(f)
}

// decodeWAVSamples decodes an in-memory WAV file, as used by
// spectrogramJSON to re-derive the debug spectrogram from the persisted
// capture bytes.
func decodeWAVSamples(wavBytes []byte) (samples []float64, sampleRate int, err error) {
	return decodeWAVReader(bytes.NewReader(wavBytes))
}

func decodeWAVReader(r interface {
	Read([]byte) (int, error)
	Seek(int64, int) (int64, error)
}) ([]float64, int, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / 32768.0
	}
	return samples, buf.Format.SampleRate, nil
}
