package shared

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source delivers mono sample buffers at SampleRate. The channel returned by
// Open is closed when the source runs dry; live sources never close it.
type Source interface {
	SampleRate() int
	Open(ctx context.Context) (<-chan []float64, error)
	Close() error
}

// Snapshot is the read-only view published to observers.
type Snapshot struct {
	Phase    Phase
	Progress float64 // percent, -1 while unknown
	Signal   float64
	Symbols  int
	Metadata *Metadata
	Result   *Result
}

func (s Snapshot) Label() string { return s.Phase.String() }

// Listener runs one receive session: a single goroutine consumes the source
// channel and drives the state machine window by window.
type Listener struct {
	cfg        ProtocolConfig
	machine    *Machine
	src        Source
	logger     zerolog.Logger
	OnSnapshot func(Snapshot)

	snapshot atomic.Pointer[Snapshot]
	stopped  atomic.Bool
	cancel   context.CancelFunc
	release  sync.Once
	done     chan Result

	// owned by the run goroutine
	state State
	ctl   []float64 // control-phase accumulation
	data  []float64 // data-phase accumulation
	align aligner
}

type aligner struct {
	pos      int
	sawQuiet bool
	done     bool
}

func NewListener(cfg ProtocolConfig, src Source) *Listener {
	l := &Listener{
		cfg:     cfg,
		machine: NewMachine(cfg),
		src:     src,
		logger:  log.With().Str("component", "listener").Logger(),
		done:    make(chan Result, 1),
	}
	l.snapshot.Store(&Snapshot{Phase: WaitingHandshake, Progress: -1})
	return l
}

// Start acquires the source and begins listening in the background.
func (l *Listener) Start(ctx context.Context) error {
	if rate := l.src.SampleRate(); rate != l.cfg.SampleRate {
		return fmt.Errorf("%w: source runs at %d Hz, protocol expects %d Hz", ErrSetup, rate, l.cfg.SampleRate)
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, err := l.src.Open(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	l.cancel = cancel
	l.logger.Info().Int("samples_per_symbol", l.cfg.SamplesPerSymbol()).Msg("Start listening ...")
	go l.run(ctx, ch)
	return nil
}

// Stop cancels the session. Safe to call at any time, more than once.
func (l *Listener) Stop() {
	l.stopped.Store(true)
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) Done() <-chan Result { return l.done }

func (l *Listener) Snapshot() Snapshot { return *l.snapshot.Load() }

// Listen is the blocking form of Start + Done.
func Listen(ctx context.Context, cfg ProtocolConfig, src Source, onSnapshot func(Snapshot)) Result {
	l := NewListener(cfg, src)
	l.OnSnapshot = onSnapshot
	if err := l.Start(ctx); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	return <-l.Done()
}

func (l *Listener) run(ctx context.Context, ch <-chan []float64) {
	defer l.cancel()
	for l.state.Phase != Done {
		select {
		case <-ctx.Done():
			l.apply(l.machine.Abort(l.state, StatusCancelled, ErrCancelled))
		case buf, ok := <-ch:
			switch {
			case l.stopped.Load() || ctx.Err() != nil:
				// a closed channel races with cancellation; cancel wins
				l.apply(l.machine.Abort(l.state, StatusCancelled, ErrCancelled))
			case !ok:
				l.sourceEnded()
			default:
				l.process(buf)
			}
		}
		l.publish()
	}
	l.done <- *l.state.Result
	close(l.done)
}

func (l *Listener) sourceEnded() {
	if l.state.Phase == ReceivingData {
		l.logger.Warn().Int("symbols", len(l.state.Symbols)).Msg("source ended during data phase")
		l.apply(l.machine.Finalize(l.state))
		return
	}
	err := fmt.Errorf("%w: source ended while %s", ErrAcquisition, l.state.Phase)
	l.apply(l.machine.Abort(l.state, StatusFailed, err))
}

func (l *Listener) process(buf []float64) {
	switch l.state.Phase {
	case ReceivingData:
		l.data = append(l.data, buf...)
	case WaitingData:
		l.data = append(l.data, buf...)
		l.control(buf)
	default:
		l.control(buf)
	}
	if l.state.Phase == ReceivingData {
		l.drainData()
	}
}

// control feeds handshake-phase windows: native buffers directly when they are
// long enough, otherwise ControlWindow slices of the accumulated input.
func (l *Listener) control(buf []float64) {
	cw := l.cfg.ControlWindow
	if len(l.ctl) == 0 && len(buf) >= cw {
		before := l.state.Phase
		l.step(buf)
		if before < WaitingData && l.state.Phase == WaitingData {
			l.data = l.data[:0]
		}
		return
	}
	l.ctl = append(l.ctl, buf...)
	for len(l.ctl) >= cw && l.state.Phase < ReceivingData {
		before := l.state.Phase
		l.step(l.ctl[:cw])
		l.ctl = l.ctl[cw:]
		if before < WaitingData && l.state.Phase == WaitingData {
			// data capture starts right after the handshake end window
			l.data = append(l.data[:0], l.ctl...)
		}
	}
	if l.state.Phase >= ReceivingData {
		l.ctl = nil
	}
}

// drainData slices exactly SamplesPerSymbol samples per window off the front
// of the data queue.
func (l *Listener) drainData() {
	sps := l.cfg.SamplesPerSymbol()
	for l.state.Phase == ReceivingData {
		if !l.align.done && !l.alignOnset() {
			return
		}
		if len(l.data) < sps {
			return
		}
		l.step(l.data[:sps])
		l.data = l.data[sps:]
	}
}

// alignOnset trims the data queue to the first loud sample after the quiet
// gap, so that every later window covers exactly one symbol.
func (l *Listener) alignOnset() bool {
	sps := l.cfg.SamplesPerSymbol()
	hop := sps / 16
	if hop == 0 {
		hop = 1
	}
	floor := l.cfg.Thresholds.SilenceFloor
	limit := int((l.cfg.HandshakeEndDur+l.cfg.GapDuration)*float64(l.cfg.SampleRate)) + sps
	a := &l.align
	for a.pos+hop <= len(l.data) {
		if WindowRMS(l.data[a.pos:a.pos+hop]) < floor {
			a.sawQuiet = true
		} else if a.sawQuiet {
			onset := a.pos
			for i := max(a.pos-hop, 0); i < a.pos+hop; i++ {
				if math.Abs(l.data[i]) >= floor {
					onset = i
					break
				}
			}
			l.data = l.data[onset:]
			a.done = true
			l.logger.Debug().Int("onset", onset).Msg("data onset aligned")
			return true
		}
		a.pos += hop
		if !a.sawQuiet && a.pos >= limit {
			l.logger.Warn().Msg("no sync gap found, slicing from current position")
			a.done = true
			return true
		}
	}
	return false
}

func (l *Listener) step(window []float64) {
	// cancellation is honored before any state change
	if l.stopped.Load() {
		return
	}
	l.apply(l.machine.Step(l.state, window))
}

func (l *Listener) apply(state State, effects []Effect) {
	l.state = state
	for _, e := range effects {
		switch e.Kind {
		case EffectPhaseChanged:
			l.logger.Info().Stringer("from", e.From).Stringer("to", e.To).Msg("phase changed")
			if e.To == ReceivingData {
				l.align = aligner{}
			}
		case EffectHeaderParsed:
			m := state.Metadata
			l.logger.Info().Str("name", m.Name).Str("type", m.Type).Int("size", m.Size).
				Int("expected_symbols", state.ExpectedSymbols).Msg("header parsed")
		case EffectRelease:
			l.releaseResources()
		case EffectResult:
			ev := l.logger.Info()
			if e.Result.Err != nil {
				ev = l.logger.Warn().Err(e.Result.Err)
			}
			ev.Stringer("status", e.Result.Status).Int("symbols", e.Result.Symbols).Msg("End receiving ...")
		}
	}
}

// releaseResources closes the source exactly once; failures are logged only.
func (l *Listener) releaseResources() {
	l.release.Do(func() {
		if err := l.src.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("closing audio source")
		}
	})
}

func (l *Listener) publish() {
	s := l.state
	snap := &Snapshot{
		Phase:    s.Phase,
		Progress: s.Progress(),
		Signal:   s.Signal,
		Symbols:  len(s.Symbols),
		Metadata: s.Metadata,
		Result:   s.Result,
	}
	l.snapshot.Store(snap)
	if l.OnSnapshot != nil {
		l.OnSnapshot(*snap)
	}
}
