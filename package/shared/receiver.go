package shared

import (
	"errors"
	"fmt"
	"slices"
)

type Phase int

const (
	WaitingHandshake Phase = iota
	InHandshake
	WaitingData
	ReceivingData
	Done
)

func (p Phase) String() string {
	switch p {
	case WaitingHandshake:
		return "waiting for handshake"
	case InHandshake:
		return "handshake"
	case WaitingData:
		return "sync gap"
	case ReceivingData:
		return "receiving"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Status int

const (
	StatusSuccess Status = iota
	StatusChecksumFailure
	StatusDecodeFailure
	StatusCancelled
	StatusFailed // acquisition or setup
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusChecksumFailure:
		return "checksum failure"
	case StatusDecodeFailure:
		return "decode failure"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the terminal outcome of a receive session.
type Result struct {
	Status        Status
	Metadata      Metadata
	Payload       []byte
	ChecksumValid bool
	Symbols       int
	Err           error
}

// State is one receive session. Step never mutates a State it is given, so
// any value handed out (e.g. in a snapshot) stays valid.
type State struct {
	Phase           Phase
	Symbols         []byte
	HandshakeCount  int
	SilenceCount    int
	EndCount        int
	Metadata        *Metadata
	HeaderRejected  bool
	ExpectedSymbols int // committed once the header parses
	Signal          float64
	Result          *Result
}

// Progress is the share of expected symbols received, in percent, or -1
// while the header is still unknown.
func (s State) Progress() float64 {
	if s.ExpectedSymbols <= 0 {
		return -1
	}
	p := 100 * float64(len(s.Symbols)) / float64(s.ExpectedSymbols)
	if p > 100 {
		p = 100
	}
	return p
}

type EffectKind int

const (
	EffectPhaseChanged EffectKind = iota
	EffectHeaderParsed
	EffectRelease // audio resources can go
	EffectResult
)

type Effect struct {
	Kind   EffectKind
	From   Phase
	To     Phase
	Result *Result
}

// Machine holds the immutable inputs of the transition function.
type Machine struct {
	cfg ProtocolConfig
	cls *Classifier
}

func NewMachine(cfg ProtocolConfig) *Machine {
	return &Machine{cfg: cfg, cls: NewClassifier(cfg)}
}

func (m *Machine) Config() ProtocolConfig { return m.cfg }

func (m *Machine) Classifier() *Classifier { return m.cls }

func moveTo(s State, to Phase, effects []Effect) (State, []Effect) {
	effects = append(effects, Effect{Kind: EffectPhaseChanged, From: s.Phase, To: to})
	s.Phase = to
	return s, effects
}

// Step consumes one sample window.
func (m *Machine) Step(s State, window []float64) (State, []Effect) {
	var effects []Effect
	t := m.cfg.Thresholds

	switch s.Phase {
	case WaitingHandshake:
		s.Signal = Power(window, m.cfg.HandshakeFreq, m.cfg.SampleRate)
		if m.cls.Handshake(window) {
			s.HandshakeCount++
			if s.HandshakeCount >= t.HandshakeConfirm {
				return moveTo(s, InHandshake, effects)
			}
		} else if s.HandshakeCount > 0 {
			s.HandshakeCount--
		}

	case InHandshake:
		s.Signal = Power(window, m.cfg.HandshakeFreq, m.cfg.SampleRate)
		if m.cls.HandshakeEnd(window) {
			s.SilenceCount = 0
			return moveTo(s, WaitingData, effects)
		}

	case WaitingData:
		s.Signal = WindowRMS(window)
		s.SilenceCount++
		if s.SilenceCount > t.GapWindows {
			s.Symbols = nil
			s.HandshakeCount, s.SilenceCount, s.EndCount = 0, 0, 0
			s.Metadata, s.HeaderRejected, s.ExpectedSymbols = nil, false, 0
			return moveTo(s, ReceivingData, effects)
		}

	case ReceivingData:
		if m.cls.End(window) {
			s.EndCount++
			s.Signal = Power(window, m.cfg.EndFreq, m.cfg.SampleRate)
			if s.EndCount >= t.EndConfirm {
				return m.Finalize(s)
			}
			return s, effects
		}
		s.EndCount = 0
		c := m.cls.ClassifySymbol(window)
		s.Signal = c.Power
		switch {
		case c.OK:
			s.SilenceCount = 0
			s.Symbols = append(slices.Clip(s.Symbols), byte(c.Symbol))
			if s.Metadata == nil && !s.HeaderRejected && len(s.Symbols)%t.HeaderParseInterval == 0 {
				s, effects = m.tryHeader(s, effects)
			}
		case c.Power < t.SilenceFloor:
			s.SilenceCount++
			if s.SilenceCount > t.ImplicitEndWindows && len(s.Symbols) >= MIN_FRAME_SYMBOLS {
				return m.Finalize(s)
			}
		default:
			s.SilenceCount = 0
		}

	case Done:
	}
	return s, effects
}

func (m *Machine) tryHeader(s State, effects []Effect) (State, []Effect) {
	meta, _, err := ParseHeader(SymbolsToBytes(s.Symbols))
	switch {
	case err == nil:
		s.Metadata = &meta
		s.ExpectedSymbols = EstimateTotalSymbols(meta)
		effects = append(effects, Effect{Kind: EffectHeaderParsed})
	case !errors.Is(err, ErrHeaderNotFound):
		// terminator seen but fields are bad; the final decode reports it
		s.HeaderRejected = true
	}
	return s, effects
}

// Finalize freezes the symbol buffer and decodes it.
func (m *Machine) Finalize(s State) (State, []Effect) {
	if s.Phase == Done {
		return s, nil
	}
	symbols := slices.Clip(s.Symbols)
	res := Result{Symbols: len(symbols)}
	dec, err := Decode(symbols)
	switch {
	case err != nil:
		res.Status = StatusDecodeFailure
		res.Err = err
	case dec.Truncated:
		res.Status = StatusChecksumFailure
		res.Metadata, res.Payload = dec.Metadata, dec.Payload
		res.Err = fmt.Errorf("%w: payload truncated, %d of %d bytes", ErrChecksumMismatch, len(dec.Payload), dec.Metadata.Size)
	case !dec.ChecksumValid:
		res.Status = StatusChecksumFailure
		res.Metadata, res.Payload = dec.Metadata, dec.Payload
		res.Err = fmt.Errorf("%w: received 0x%02x, computed 0x%02x", ErrChecksumMismatch, dec.Received, dec.Computed)
	default:
		res.Status = StatusSuccess
		res.Metadata, res.Payload, res.ChecksumValid = dec.Metadata, dec.Payload, true
	}
	return m.terminate(s, &res)
}

// Abort ends the session with an externally caused result (cancel, source
// failure).
func (m *Machine) Abort(s State, status Status, err error) (State, []Effect) {
	if s.Phase == Done {
		return s, nil
	}
	return m.terminate(s, &Result{Status: status, Symbols: len(s.Symbols), Err: err})
}

func (m *Machine) terminate(s State, res *Result) (State, []Effect) {
	s.Result = res
	s, effects := moveTo(s, Done, nil)
	effects = append(effects,
		Effect{Kind: EffectRelease},
		Effect{Kind: EffectResult, Result: res},
	)
	return s, effects
}
