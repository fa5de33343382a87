package audio

import (
	"github.com/gopxl/beep"
)

const resampleBlock = 512

// Resampler converts frames to a fixed target rate.
type Resampler struct {
	Target  int
	Quality int
}

func NewResampler(target, quality int) Resampler {
	if quality < 1 {
		quality = 1
	}
	if quality > 64 {
		quality = 64
	}
	return Resampler{Target: target, Quality: quality}
}

// Resample returns f unchanged when it is already at the target rate.
// Otherwise the output holds exactly floor(len*target/rate) samples.
func (r Resampler) Resample(f Frame) Frame {
	if f.SampleRate == r.Target || f.SampleRate <= 0 || len(f.Samples) == 0 {
		return f
	}
	want := len(f.Samples) * r.Target / f.SampleRate
	out := make([]float32, 0, want)
	if want == 0 {
		return Frame{Samples: out, SampleRate: r.Target}
	}

	src := &monoStreamer{samples: f.Samples}
	rs := beep.Resample(r.Quality, beep.SampleRate(f.SampleRate), beep.SampleRate(r.Target), src)
	buf := make([][2]float64, resampleBlock)
	for len(out) < want {
		n, ok := rs.Stream(buf)
		for i := 0; i < n && len(out) < want; i++ {
			out = append(out, float32(buf[i][0]))
		}
		if !ok || n == 0 {
			break
		}
	}
	// The interpolation window can end a few samples early at the tail.
	for len(out) < want {
		out = append(out, 0)
	}
	return Frame{Samples: out, SampleRate: r.Target}
}

// monoStreamer feeds a mono slice to beep as a stereo stream with identical
// channels.
type monoStreamer struct {
	samples []float32
	pos     int
}

func (m *monoStreamer) Stream(buf [][2]float64) (int, bool) {
	if m.pos >= len(m.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && m.pos < len(m.samples) {
		v := float64(m.samples[m.pos])
		buf[n][0], buf[n][1] = v, v
		n++
		m.pos++
	}
	return n, true
}

func (m *monoStreamer) Err() error { return nil }
