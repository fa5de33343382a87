package audio

import "time"

// Frame is one fixed-duration slice of mono samples tagged with its sample rate.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration reports the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// SamplesFor converts seconds to a whole sample count at rate.
func SamplesFor(seconds float64, rate int) int {
	return int(seconds * float64(rate))
}
