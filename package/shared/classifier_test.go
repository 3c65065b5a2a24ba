package shared

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySymbolPureTones(t *testing.T) {
	cfg := DefaultConfig()
	cls := NewClassifier(cfg)
	sps := cfg.SamplesPerSymbol()
	for s := 0; s < ALPHABET_SIZE; s++ {
		c := cls.ClassifySymbol(tone(cfg.SymbolFreq(byte(s)), 0.5, sps, cfg.SampleRate))
		assert.True(t, c.OK, "symbol %d", s)
		assert.Equal(t, s, c.Symbol)
		assert.Greater(t, c.Confidence, 0.9)
		assert.InDelta(t, 0.5, c.Power, 1e-6)
	}
}

func TestClassifySymbolRejects(t *testing.T) {
	cfg := DefaultConfig()
	cls := NewClassifier(cfg)
	sps := cfg.SamplesPerSymbol()

	c := cls.ClassifySymbol(silence(sps))
	assert.False(t, c.OK)
	assert.Equal(t, NoSymbol, c.Symbol)
	assert.Zero(t, c.Confidence)
	assert.Zero(t, c.Power)

	// every alphabet bin equally loud
	uniform := silence(sps)
	for _, f := range cfg.Alphabet() {
		for i, v := range tone(f, 0.05, sps, cfg.SampleRate) {
			uniform[i] += v
		}
	}
	c = cls.ClassifySymbol(uniform)
	assert.False(t, c.OK)
	assert.Equal(t, NoSymbol, c.Symbol)
	assert.Less(t, c.Confidence, 0.01)

	// clean but below the power floor
	c = cls.ClassifySymbol(tone(cfg.SymbolFreq(3), 0.005, sps, cfg.SampleRate))
	assert.False(t, c.OK)
	assert.Greater(t, c.Confidence, 0.9)
}

func TestClassifySymbolRange(t *testing.T) {
	cfg := DefaultConfig()
	cls := NewClassifier(cfg)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		c := cls.ClassifySymbol(noise(rng, 0.2, cfg.SamplesPerSymbol()))
		if c.OK {
			assert.GreaterOrEqual(t, c.Symbol, 0)
			assert.Less(t, c.Symbol, ALPHABET_SIZE)
		} else {
			assert.Equal(t, NoSymbol, c.Symbol)
		}
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
	}
}

func TestControlTones(t *testing.T) {
	cfg := DefaultConfig()
	cls := NewClassifier(cfg)
	n := cfg.ControlWindow
	rng := rand.New(rand.NewSource(5))

	handshake := tone(cfg.HandshakeFreq, 0.5, n, cfg.SampleRate)
	handshakeEnd := tone(cfg.HandshakeEndFreq, 0.5, n, cfg.SampleRate)
	dataTone := tone(cfg.SymbolFreq(7), 0.5, cfg.SamplesPerSymbol(), cfg.SampleRate)
	endTone := tone(cfg.EndFreq, 0.5, cfg.SamplesPerSymbol(), cfg.SampleRate)

	assert.True(t, cls.Handshake(handshake))
	assert.False(t, cls.Handshake(handshakeEnd))
	assert.False(t, cls.Handshake(silence(n)))
	assert.False(t, cls.Handshake(noise(rng, 0.01, n)))
	assert.False(t, cls.Handshake(tone(cfg.HandshakeFreq, 0.01, n, cfg.SampleRate)), "below floor")

	assert.True(t, cls.HandshakeEnd(handshakeEnd))
	assert.False(t, cls.HandshakeEnd(handshake))
	assert.False(t, cls.HandshakeEnd(silence(n)))

	assert.True(t, cls.End(endTone))
	assert.False(t, cls.End(dataTone))
	assert.False(t, cls.End(silence(cfg.SamplesPerSymbol())))
}

func TestWindowRMS(t *testing.T) {
	assert.Zero(t, WindowRMS(nil))
	assert.Zero(t, WindowRMS(silence(100)))
	assert.InDelta(t, 0.5/1.41421356, WindowRMS(tone(1000, 0.5, 2400, FS)), 1e-6)
}
