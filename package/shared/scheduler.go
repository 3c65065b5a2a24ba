package shared

import "time"

// Breakpoint is one point of the oscillator automation. Gain ramps linearly
// from the previous breakpoint to this one; Frequency holds from At until the
// next breakpoint.
type Breakpoint struct {
	At        float64 // seconds, absolute
	Frequency float64
	Gain      float64
}

// Schedule is computed once, up front, and never modified after it is handed
// to a sink.
type Schedule struct {
	Start       float64
	Breakpoints []Breakpoint
	DataStart   float64 // first symbol boundary
	SymbolCount int
}

func (s Schedule) End() float64 {
	if len(s.Breakpoints) == 0 {
		return s.Start
	}
	return s.Breakpoints[len(s.Breakpoints)-1].At
}

func (s Schedule) Duration() time.Duration {
	return time.Duration((s.End() - s.Start) * float64(time.Second))
}

// BuildSchedule lays out the whole transmission starting at start.
func BuildSchedule(cfg ProtocolConfig, symbols []byte, start float64) Schedule {
	bps := make([]Breakpoint, 0, 3*len(symbols)+12)
	add := func(at, freq, gain float64) {
		bps = append(bps, Breakpoint{At: at, Frequency: freq, Gain: gain})
	}
	level := cfg.ToneGain
	dip := level * cfg.DipFactor
	ramp := cfg.MicroRamp

	// Handshake with fade-in
	t := start
	add(t, cfg.HandshakeFreq, 0)
	add(t+cfg.HandshakeFadeIn, cfg.HandshakeFreq, level)
	t += cfg.HandshakeDuration

	// Handshake end marker
	add(t, cfg.HandshakeEndFreq, level)
	t += cfg.HandshakeEndDur

	// Gap
	add(t, cfg.HandshakeEndFreq, level)
	add(t+ramp, cfg.HandshakeEndFreq, 0)
	t += cfg.GapDuration
	add(t, cfg.HandshakeEndFreq, 0)
	dataStart := t

	// Data, with a dip at every boundary
	symDur := cfg.SymbolDuration()
	for i, s := range symbols {
		ts := dataStart + float64(i)*symDur
		f := cfg.SymbolFreq(s)
		add(ts, f, dip)
		add(ts+ramp, f, level)
		add(ts+symDur-ramp, f, level)
	}
	t = dataStart + float64(len(symbols))*symDur

	// End marker, then fade-out
	add(t, cfg.EndFreq, dip)
	add(t+ramp, cfg.EndFreq, level)
	t += cfg.EndDuration
	add(t, cfg.EndFreq, level)
	add(t+cfg.FadeOut, cfg.EndFreq, 0)

	return Schedule{
		Start:       start,
		Breakpoints: bps,
		DataStart:   dataStart,
		SymbolCount: len(symbols),
	}
}

func transmissionSeconds(cfg ProtocolConfig, symbolCount int) float64 {
	return cfg.HandshakeDuration + cfg.HandshakeEndDur + cfg.GapDuration +
		float64(symbolCount)*cfg.SymbolDuration() + cfg.EndDuration + cfg.FadeOut
}

// EstimateDuration is the airtime of a file described by meta.
func EstimateDuration(cfg ProtocolConfig, meta Metadata) time.Duration {
	return time.Duration(transmissionSeconds(cfg, EstimateTotalSymbols(meta)) * float64(time.Second))
}
