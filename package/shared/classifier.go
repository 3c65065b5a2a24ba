package shared

import "math"

// NoSymbol marks a window that carries no trustworthy data symbol.
const NoSymbol = -1

type Classification struct {
	Symbol     int
	Confidence float64
	Power      float64 // strongest alphabet bin
	OK         bool
}

// Classifier scores sample windows against the alphabet and marker tones.
// It holds no mutable state.
type Classifier struct {
	cfg      ProtocolConfig
	alphabet []float64
}

func NewClassifier(cfg ProtocolConfig) *Classifier {
	return &Classifier{cfg: cfg, alphabet: cfg.Alphabet()}
}

func (c *Classifier) ClassifySymbol(samples []float64) Classification {
	var best, second float64
	symbol := 0
	for i, f := range c.alphabet {
		p := Power(samples, f, c.cfg.SampleRate)
		if p > best {
			second = best
			best = p
			symbol = i
		} else if p > second {
			second = p
		}
	}
	res := Classification{Symbol: NoSymbol, Power: best}
	if best > 0 {
		res.Confidence = (best - second) / best
	}
	if res.Confidence > c.cfg.Thresholds.MinConfidence && best > c.cfg.Thresholds.MinSymbolPower {
		res.Symbol = symbol
		res.OK = true
	}
	return res
}

// ClassifyControl detects a marker tone: the target must clear the absolute
// floor and dominate the strongest reference bin by ratio.
func (c *Classifier) ClassifyControl(samples []float64, targetFreq float64, refs []float64, ratio float64) bool {
	target := Power(samples, targetFreq, c.cfg.SampleRate)
	if target <= c.cfg.Thresholds.ControlFloor {
		return false
	}
	var ref float64
	for _, f := range refs {
		ref = math.Max(ref, Power(samples, f, c.cfg.SampleRate))
	}
	return target > ratio*ref
}

func (c *Classifier) Handshake(samples []float64) bool {
	refs := []float64{c.cfg.HandshakeFreq - c.cfg.NoiseOffset, c.cfg.HandshakeFreq + c.cfg.NoiseOffset}
	return c.ClassifyControl(samples, c.cfg.HandshakeFreq, refs, c.cfg.Thresholds.HandshakeRatio)
}

func (c *Classifier) HandshakeEnd(samples []float64) bool {
	return c.ClassifyControl(samples, c.cfg.HandshakeEndFreq, []float64{c.cfg.HandshakeFreq}, c.cfg.Thresholds.HandshakeEndRatio)
}

func (c *Classifier) End(samples []float64) bool {
	return c.ClassifyControl(samples, c.cfg.EndFreq, c.alphabet, c.cfg.Thresholds.EndRatio)
}

// WindowRMS is the broadband level of a window, used for gap and onset
// detection where no particular tone is expected.
func WindowRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, x := range samples {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}
