package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const bytesPerFloat32 = 4

// DecodeFloat32LE decodes interleaved little-endian float32 PCM and keeps
// channel 0 only. Remaining channels are discarded, not mixed.
func DecodeFloat32LE(raw []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	stride := channels * bytesPerFloat32
	if len(raw)%stride != 0 {
		return nil, fmt.Errorf("pcm payload of %d bytes not aligned to %d channels", len(raw), channels)
	}
	out := make([]float32, len(raw)/stride)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*stride:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// EncodeFloat32LE writes samples as interleaved little-endian float32,
// duplicating each sample across channels.
func EncodeFloat32LE(samples []float32, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	out := make([]byte, len(samples)*channels*bytesPerFloat32)
	off := 0
	for _, s := range samples {
		bits := math.Float32bits(s)
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint32(out[off:], bits)
			off += bytesPerFloat32
		}
	}
	return out
}

// FrameBytes is the size of a read of n sample frames across channels.
func FrameBytes(frames, channels int) int {
	return frames * channels * bytesPerFloat32
}
