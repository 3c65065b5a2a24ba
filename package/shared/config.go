package shared

import (
	"fmt"
	"math"
	"time"

	"github.com/BurntSushi/toml"
)

// Default protocol parameters
const (
	FS                 = 48000 // Sample Frequency
	HANDSHAKE_FREQ     = 1000  // Handshake tone
	HANDSHAKE_END_FREQ = 1400  // Handshake end marker
	BASE_FREQ          = 1800  // Frequency of symbol 0
	FREQ_STEP          = 200   // Spacing between symbols
	END_FREQ           = 5400  // End of transmission marker
	SYMBOL_RATE        = 20    // Symbols per second
	ALPHABET_SIZE      = 16    // One frequency per nibble
	GUARD_BAND         = 300   // Min distance between a marker and any other tone
	NOISE_OFFSET       = 300   // Reference bins around the handshake tone
	CONTROL_WINDOW     = 2048  // Min window for handshake phases
	MIN_FRAME_SYMBOLS  = 6     // 3 bytes: smallest decodable frame
)

// Thresholds is the canonical detection parameter set.
type Thresholds struct {
	MinConfidence       float64 `toml:"min_confidence"`
	MinSymbolPower      float64 `toml:"min_symbol_power"`
	SilenceFloor        float64 `toml:"silence_floor"`
	ControlFloor        float64 `toml:"control_floor"`
	HandshakeRatio      float64 `toml:"handshake_ratio"`
	HandshakeEndRatio   float64 `toml:"handshake_end_ratio"`
	EndRatio            float64 `toml:"end_ratio"`
	HandshakeConfirm    int     `toml:"handshake_confirm"`
	GapWindows          int     `toml:"gap_windows"`
	EndConfirm          int     `toml:"end_confirm"`
	ImplicitEndWindows  int     `toml:"implicit_end_windows"`
	HeaderParseInterval int     `toml:"header_parse_interval"`
}

type ProtocolConfig struct {
	SampleRate        int        `toml:"sample_rate"`
	HandshakeFreq     float64    `toml:"handshake_freq"`
	HandshakeDuration float64    `toml:"handshake_duration"` // seconds
	HandshakeFadeIn   float64    `toml:"handshake_fade_in"`
	HandshakeEndFreq  float64    `toml:"handshake_end_freq"`
	HandshakeEndDur   float64    `toml:"handshake_end_duration"`
	GapDuration       float64    `toml:"gap_duration"`
	BaseFreq          float64    `toml:"base_freq"`
	FreqStep          float64    `toml:"freq_step"`
	SymbolRate        float64    `toml:"symbol_rate"`
	EndFreq           float64    `toml:"end_freq"`
	EndDuration       float64    `toml:"end_duration"`
	FadeOut           float64    `toml:"fade_out"`
	ToneGain          float64    `toml:"tone_gain"`
	MicroRamp         float64    `toml:"micro_ramp"` // seconds, at every symbol boundary
	DipFactor         float64    `toml:"dip_factor"` // gain multiplier at the bottom of a micro ramp
	GuardBand         float64    `toml:"guard_band"`
	NoiseOffset       float64    `toml:"noise_offset"`
	ControlWindow     int        `toml:"control_window"`
	Thresholds        Thresholds `toml:"thresholds"`
}

func DefaultConfig() ProtocolConfig {
	return ProtocolConfig{
		SampleRate:        FS,
		HandshakeFreq:     HANDSHAKE_FREQ,
		HandshakeDuration: 1.0,
		HandshakeFadeIn:   0.02,
		HandshakeEndFreq:  HANDSHAKE_END_FREQ,
		HandshakeEndDur:   0.15,
		GapDuration:       0.05,
		BaseFreq:          BASE_FREQ,
		FreqStep:          FREQ_STEP,
		SymbolRate:        SYMBOL_RATE,
		EndFreq:           END_FREQ,
		EndDuration:       0.3,
		FadeOut:           0.05,
		ToneGain:          0.5,
		MicroRamp:         0.0005,
		DipFactor:         0.2,
		GuardBand:         GUARD_BAND,
		NoiseOffset:       NOISE_OFFSET,
		ControlWindow:     CONTROL_WINDOW,
		Thresholds: Thresholds{
			MinConfidence:       0.35,
			MinSymbolPower:      0.02,
			SilenceFloor:        0.01,
			ControlFloor:        0.03,
			HandshakeRatio:      3.0,
			HandshakeEndRatio:   1.5,
			EndRatio:            2.0,
			HandshakeConfirm:    6,
			GapWindows:          1,
			EndConfirm:          3,
			ImplicitEndWindows:  40,
			HeaderParseInterval: 8,
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Keys missing from the
// file keep their default value.
func LoadConfig(path string) (ProtocolConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ProtocolConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ProtocolConfig{}, err
	}
	return cfg, nil
}

func (c ProtocolConfig) SymbolDuration() float64 {
	return 1 / c.SymbolRate
}

func (c ProtocolConfig) SymbolPeriod() time.Duration {
	return time.Duration(c.SymbolDuration() * float64(time.Second))
}

func (c ProtocolConfig) SamplesPerSymbol() int {
	return int(math.Round(float64(c.SampleRate) * c.SymbolDuration()))
}

// SymbolFreq maps a nibble to its tone.
func (c ProtocolConfig) SymbolFreq(symbol byte) float64 {
	return c.BaseFreq + c.FreqStep*float64(symbol)
}

func (c ProtocolConfig) Alphabet() []float64 {
	freqs := make([]float64, ALPHABET_SIZE)
	for i := range freqs {
		freqs[i] = c.SymbolFreq(byte(i))
	}
	return freqs
}

func (c ProtocolConfig) markers() map[string]float64 {
	return map[string]float64{
		"handshake":     c.HandshakeFreq,
		"handshake_end": c.HandshakeEndFreq,
		"end":           c.EndFreq,
	}
}

func (c ProtocolConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive", ErrInvalidConfig)
	}
	durations := map[string]float64{
		"handshake_duration":     c.HandshakeDuration,
		"handshake_fade_in":      c.HandshakeFadeIn,
		"handshake_end_duration": c.HandshakeEndDur,
		"gap_duration":           c.GapDuration,
		"symbol_rate":            c.SymbolRate,
		"end_duration":           c.EndDuration,
		"fade_out":               c.FadeOut,
		"micro_ramp":             c.MicroRamp,
	}
	for name, v := range durations {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.FreqStep <= 0 || c.BaseFreq <= 0 {
		return fmt.Errorf("%w: alphabet must be strictly increasing above zero", ErrInvalidConfig)
	}
	if 2*c.MicroRamp >= c.SymbolDuration() {
		return fmt.Errorf("%w: micro_ramp does not fit in a symbol", ErrInvalidConfig)
	}
	if c.ToneGain <= 0 || c.ToneGain > 1 || c.DipFactor < 0 || c.DipFactor > 1 {
		return fmt.Errorf("%w: gains must be within (0, 1]", ErrInvalidConfig)
	}
	if c.ControlWindow <= 0 {
		return fmt.Errorf("%w: control_window must be positive", ErrInvalidConfig)
	}
	nyquist := float64(c.SampleRate) / 2
	alphabet := c.Alphabet()
	if alphabet[len(alphabet)-1] >= nyquist {
		return fmt.Errorf("%w: alphabet exceeds nyquist frequency %.0f Hz", ErrInvalidConfig, nyquist)
	}
	markers := c.markers()
	for name, f := range markers {
		if f <= 0 || f >= nyquist {
			return fmt.Errorf("%w: %s frequency %.0f Hz out of range", ErrInvalidConfig, name, f)
		}
		for _, a := range alphabet {
			if math.Abs(f-a) < c.GuardBand {
				return fmt.Errorf("%w: %s frequency %.0f Hz within guard band of symbol tone %.0f Hz", ErrInvalidConfig, name, f, a)
			}
		}
		for other, g := range markers {
			if other != name && math.Abs(f-g) < c.GuardBand {
				return fmt.Errorf("%w: %s and %s frequencies too close", ErrInvalidConfig, name, other)
			}
		}
	}
	t := c.Thresholds
	if t.MinConfidence < 0 || t.MinConfidence >= 1 {
		return fmt.Errorf("%w: min_confidence must be within [0, 1)", ErrInvalidConfig)
	}
	if t.MinSymbolPower <= 0 || t.SilenceFloor <= 0 || t.ControlFloor <= 0 {
		return fmt.Errorf("%w: power floors must be positive", ErrInvalidConfig)
	}
	if t.HandshakeRatio < 1 || t.HandshakeEndRatio < 1 || t.EndRatio < 1 {
		return fmt.Errorf("%w: dominance ratios must be at least 1", ErrInvalidConfig)
	}
	if t.HandshakeConfirm <= 0 || t.EndConfirm <= 0 || t.GapWindows < 0 ||
		t.ImplicitEndWindows <= 0 || t.HeaderParseInterval <= 0 {
		return fmt.Errorf("%w: debounce counts must be positive", ErrInvalidConfig)
	}
	return nil
}
