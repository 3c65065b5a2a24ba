package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type windows struct {
	cfg ProtocolConfig
}

func (w windows) handshake() []float64 {
	return tone(w.cfg.HandshakeFreq, 0.5, w.cfg.ControlWindow, w.cfg.SampleRate)
}

func (w windows) handshakeEnd() []float64 {
	return tone(w.cfg.HandshakeEndFreq, 0.5, w.cfg.ControlWindow, w.cfg.SampleRate)
}

func (w windows) quiet() []float64 { return silence(w.cfg.SamplesPerSymbol()) }

func (w windows) symbol(s byte) []float64 {
	return tone(w.cfg.SymbolFreq(s), 0.5, w.cfg.SamplesPerSymbol(), w.cfg.SampleRate)
}

func (w windows) end() []float64 {
	return tone(w.cfg.EndFreq, 0.5, w.cfg.SamplesPerSymbol(), w.cfg.SampleRate)
}

func feed(m *Machine, s State, ws ...[]float64) (State, []Effect) {
	var all []Effect
	for _, w := range ws {
		var effects []Effect
		s, effects = m.Step(s, w)
		all = append(all, effects...)
	}
	return s, all
}

func repeat(w []float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = w
	}
	return out
}

func symbolWindows(w windows, symbols []byte) [][]float64 {
	out := make([][]float64, len(symbols))
	for i, s := range symbols {
		out[i] = w.symbol(s)
	}
	return out
}

func resultOf(t *testing.T, effects []Effect) *Result {
	t.Helper()
	for _, e := range effects {
		if e.Kind == EffectResult {
			return e.Result
		}
	}
	t.Fatal("no result effect")
	return nil
}

func TestHandshakeSequence(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, effects := feed(m, State{}, repeat(w.handshake(), cfg.Thresholds.HandshakeConfirm-1)...)
	assert.Equal(t, WaitingHandshake, s.Phase)
	assert.Empty(t, effects)

	s, effects = feed(m, s, w.handshake())
	assert.Equal(t, InHandshake, s.Phase)
	require.Len(t, effects, 1)
	assert.Equal(t, Effect{Kind: EffectPhaseChanged, From: WaitingHandshake, To: InHandshake}, effects[0])

	s, _ = feed(m, s, w.handshake(), w.handshake())
	assert.Equal(t, InHandshake, s.Phase)

	s, _ = feed(m, s, w.handshakeEnd())
	assert.Equal(t, WaitingData, s.Phase)

	s, _ = feed(m, s, repeat(w.quiet(), cfg.Thresholds.GapWindows)...)
	assert.Equal(t, WaitingData, s.Phase)
	s, _ = feed(m, s, w.quiet())
	assert.Equal(t, ReceivingData, s.Phase)
	assert.Empty(t, s.Symbols)
	assert.Equal(t, -1.0, s.Progress())
}

func TestHandshakeCountDecays(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, _ := feed(m, State{}, repeat(w.handshake(), 5)...)
	s, _ = feed(m, s, silence(cfg.ControlWindow))
	assert.Equal(t, 4, s.HandshakeCount, "a miss decrements instead of resetting")
	assert.Equal(t, WaitingHandshake, s.Phase)

	s, _ = feed(m, s, w.handshake(), w.handshake())
	assert.Equal(t, InHandshake, s.Phase)

	s, _ = feed(m, State{}, repeat(silence(cfg.ControlWindow), 10)...)
	assert.Zero(t, s.HandshakeCount)
}

func TestReceiveExampleFrame(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}
	symbols, err := Encode(examplePayload, exampleMeta)
	require.NoError(t, err)

	start := State{Phase: ReceivingData}
	s, effects := feed(m, start, symbolWindows(w, symbols[:39])...)
	assert.Nil(t, s.Metadata)
	assert.Empty(t, effects)

	s, effects = feed(m, s, w.symbol(symbols[39]))
	require.NotNil(t, s.Metadata, "header parses on the 40th symbol")
	assert.Equal(t, exampleMeta, *s.Metadata)
	assert.Equal(t, 50, s.ExpectedSymbols)
	assert.InDelta(t, 80.0, s.Progress(), 1e-9)
	assert.Equal(t, []Effect{{Kind: EffectHeaderParsed}}, effects)

	s, _ = feed(m, s, symbolWindows(w, symbols[40:])...)
	assert.InDelta(t, 100.0, s.Progress(), 1e-9)

	s, effects = feed(m, s, repeat(w.end(), cfg.Thresholds.EndConfirm-1)...)
	assert.Equal(t, ReceivingData, s.Phase)
	assert.Len(t, s.Symbols, 50, "end marker windows are not symbols")
	assert.Empty(t, effects)

	s, effects = feed(m, s, w.end())
	assert.Equal(t, Done, s.Phase)
	require.Len(t, effects, 3)
	assert.Equal(t, EffectPhaseChanged, effects[0].Kind)
	assert.Equal(t, EffectRelease, effects[1].Kind)
	res := resultOf(t, effects)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, exampleMeta, res.Metadata)
	assert.Equal(t, examplePayload, res.Payload)
	assert.True(t, res.ChecksumValid)
	assert.Equal(t, 50, res.Symbols)
	assert.NoError(t, res.Err)
	assert.Same(t, res, s.Result)
}

func TestEndCountResetsOnData(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, _ := feed(m, State{Phase: ReceivingData}, w.symbol(1), w.end(), w.end(), w.symbol(2), w.end(), w.end())
	assert.Equal(t, ReceivingData, s.Phase)
	assert.Equal(t, 2, s.EndCount)
	assert.Equal(t, []byte{1, 2}, s.Symbols)
}

func TestReceiveChecksumFailure(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}
	symbols, err := Encode(examplePayload, exampleMeta)
	require.NoError(t, err)
	symbols[45] ^= 0x1

	_, effects := feed(m, State{Phase: ReceivingData}, append(symbolWindows(w, symbols), repeat(w.end(), 3)...)...)
	res := resultOf(t, effects)
	assert.Equal(t, StatusChecksumFailure, res.Status)
	assert.ErrorIs(t, res.Err, ErrChecksumMismatch)
	assert.Equal(t, exampleMeta, res.Metadata)
	assert.NotEqual(t, examplePayload, res.Payload)
	assert.False(t, res.ChecksumValid)
}

func TestReceiveDecodeFailure(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, effects := feed(m, State{Phase: ReceivingData}, append(symbolWindows(w, BytesToSymbols([]byte("abcdefgh"))), repeat(w.end(), 3)...)...)
	assert.Equal(t, Done, s.Phase)
	res := resultOf(t, effects)
	assert.Equal(t, StatusDecodeFailure, res.Status)
	assert.ErrorIs(t, res.Err, ErrHeaderNotFound)
	assert.Equal(t, 16, res.Symbols)
}

func TestHeaderRejectedStopsParsing(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, effects := feed(m, State{Phase: ReceivingData}, symbolWindows(w, BytesToSymbols([]byte("a\x1fb\x1f0\x1exy")))...)
	assert.True(t, s.HeaderRejected)
	assert.Nil(t, s.Metadata)
	assert.Empty(t, effects)
	assert.Equal(t, -1.0, s.Progress())
}

func TestImplicitEnd(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}
	symbols, err := Encode(examplePayload, exampleMeta)
	require.NoError(t, err)

	s, _ := feed(m, State{Phase: ReceivingData}, symbolWindows(w, symbols)...)
	s, _ = feed(m, s, repeat(w.quiet(), cfg.Thresholds.ImplicitEndWindows)...)
	assert.Equal(t, ReceivingData, s.Phase)

	s, effects := feed(m, s, w.quiet())
	assert.Equal(t, Done, s.Phase)
	assert.Equal(t, StatusSuccess, resultOf(t, effects).Status)
}

func TestImplicitEndNeedsMinimumFrame(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	s, _ := feed(m, State{Phase: ReceivingData}, symbolWindows(w, []byte{1, 2, 3, 4})...)
	s, _ = feed(m, s, repeat(w.quiet(), 3*cfg.Thresholds.ImplicitEndWindows)...)
	assert.Equal(t, ReceivingData, s.Phase)
	assert.Len(t, s.Symbols, 4)
}

func TestDoneIsTerminal(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	done, effects := m.Abort(State{Phase: ReceivingData, Symbols: []byte{1, 2}}, StatusCancelled, ErrCancelled)
	require.Equal(t, Done, done.Phase)
	res := resultOf(t, effects)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, 2, res.Symbols)

	for _, win := range [][]float64{w.handshake(), w.symbol(3), w.end(), w.quiet()} {
		next, effects := m.Step(done, win)
		assert.Equal(t, done, next)
		assert.Empty(t, effects)
	}
	next, effects := m.Finalize(done)
	assert.Equal(t, done, next)
	assert.Empty(t, effects)
	next, effects = m.Abort(done, StatusFailed, ErrAcquisition)
	assert.Equal(t, done, next)
	assert.Empty(t, effects)
}

func TestStepLeavesInputStateUntouched(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	prev, _ := feed(m, State{Phase: ReceivingData}, w.symbol(1), w.symbol(2))
	next, _ := m.Step(prev, w.symbol(3))
	next.Symbols[0] = 9
	assert.Equal(t, []byte{1, 2}, prev.Symbols)
	assert.Equal(t, []byte{9, 2, 3}, next.Symbols)

	snapshot := prev
	final, _ := m.Finalize(prev)
	assert.Equal(t, snapshot, prev)
	assert.Equal(t, Done, final.Phase)
}

func TestWaitingDataResetsSession(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)
	w := windows{cfg}

	stale := State{Phase: WaitingData, Symbols: []byte{1}, EndCount: 2, HeaderRejected: true, ExpectedSymbols: 10}
	s, _ := feed(m, stale, w.quiet(), w.quiet())
	assert.Equal(t, ReceivingData, s.Phase)
	assert.Empty(t, s.Symbols)
	assert.Zero(t, s.EndCount)
	assert.False(t, s.HeaderRejected)
	assert.Zero(t, s.ExpectedSymbols)
}

func TestFinalizeTruncatedPayload(t *testing.T) {
	m := NewMachine(DefaultConfig())
	// the trailing byte is a valid checksum of the short body
	body := []byte("a.txt\x1ftext/plain\x1f10\x1ehi")
	s := State{Phase: ReceivingData, Symbols: BytesToSymbols(append(body, Checksum(body)))}

	s, effects := m.Finalize(s)
	assert.Equal(t, Done, s.Phase)
	res := resultOf(t, effects)
	assert.Equal(t, StatusChecksumFailure, res.Status)
	assert.ErrorIs(t, res.Err, ErrChecksumMismatch)
	assert.False(t, res.ChecksumValid)
	assert.Equal(t, 10, res.Metadata.Size)
	assert.Equal(t, []byte("hi"), res.Payload)
}
