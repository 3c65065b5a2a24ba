package shared

import "math"

// Renderer synthesizes a Schedule on a single phase-continuous oscillator.
type Renderer struct {
	sched      Schedule
	sampleRate float64
	idx        int
	n          int
	total      int
	phase      float64
	freq       float64
	gain       float64
}

func NewRenderer(sched Schedule, sampleRate int) *Renderer {
	fs := float64(sampleRate)
	return &Renderer{
		sched:      sched,
		sampleRate: fs,
		total:      int(math.Ceil((sched.End() - sched.Start) * fs)),
	}
}

func (r *Renderer) Total() int     { return r.total }
func (r *Renderer) Remaining() int { return r.total - r.n }

// Read renders up to len(buf) samples and returns how many were written.
// It returns 0 once the schedule is exhausted.
func (r *Renderer) Read(buf []float64) int {
	bps := r.sched.Breakpoints
	written := 0
	for written < len(buf) && r.n < r.total {
		t := r.sched.Start + float64(r.n)/r.sampleRate
		for r.idx+1 < len(bps) && bps[r.idx+1].At <= t {
			r.idx++
		}
		r.freq, r.gain = 0, 0
		if len(bps) > 0 && t >= bps[r.idx].At {
			a := bps[r.idx]
			r.freq, r.gain = a.Frequency, a.Gain
			if r.idx+1 < len(bps) {
				b := bps[r.idx+1]
				if span := b.At - a.At; span > 0 {
					r.gain = a.Gain + (b.Gain-a.Gain)*(t-a.At)/span
				}
			}
		}
		buf[written] = r.gain * math.Sin(r.phase)
		r.phase = math.Mod(r.phase+2*math.Pi*r.freq/r.sampleRate, 2*math.Pi)
		written++
		r.n++
	}
	return written
}

// Tail ramps the oscillator from its current gain to silence, so a cancelled
// transmission never ends on a click.
func (r *Renderer) Tail(samples int) []float64 {
	out := make([]float64, samples)
	for i := range out {
		g := r.gain * (1 - float64(i+1)/float64(samples))
		out[i] = g * math.Sin(r.phase)
		r.phase = math.Mod(r.phase+2*math.Pi*r.freq/r.sampleRate, 2*math.Pi)
	}
	r.gain = 0
	r.n = r.total
	return out
}

// RenderAll synthesizes the complete schedule in one buffer.
func RenderAll(sched Schedule, sampleRate int) []float64 {
	r := NewRenderer(sched, sampleRate)
	out := make([]float64, r.Total())
	r.Read(out)
	return out
}
