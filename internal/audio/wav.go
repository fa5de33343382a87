package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// EncodeWAV writes mono samples as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: wavBitDepth,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = floatToInt16(s)
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates path (and its directory) holding samples as WAV.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create wav dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(file, samples, sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTempWAV writes samples to a temporary WAV file and returns its path.
// The caller removes the file.
func WriteTempWAV(pattern string, samples []float32, sampleRate int) (string, error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if err := EncodeWAV(file, samples, sampleRate); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close temp wav: %w", err)
	}
	return file.Name(), nil
}

// IntToFloat scales an integer PCM sample of the given bit depth to [-1, 1).
func IntToFloat(v int, bitDepth int) float32 {
	if bitDepth <= 0 {
		bitDepth = wavBitDepth
	}
	return float32(float64(v) / float64(int64(1)<<(bitDepth-1)))
}

func floatToInt16(s float32) int {
	v := math.Max(-1, math.Min(1, float64(s)))
	return int(math.Round(v * math.MaxInt16))
}
