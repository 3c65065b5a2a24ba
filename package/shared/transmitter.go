package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink plays a complete schedule on one tone generator. Play returns once the
// schedule has been handed to the device, or after the output is silent when
// ctx is cancelled.
type Sink interface {
	SampleRate() int
	Play(ctx context.Context, sched Schedule) error
}

type Transmitter struct {
	cfg    ProtocolConfig
	sink   Sink
	logger zerolog.Logger
}

func NewTransmitter(cfg ProtocolConfig, sink Sink) *Transmitter {
	return &Transmitter{
		cfg:    cfg,
		sink:   sink,
		logger: log.With().Str("component", "transmitter").Logger(),
	}
}

// Transmission is the handle of one in-flight send.
type Transmission struct {
	Metadata Metadata
	Schedule Schedule
	cancel   context.CancelFunc
	done     chan error
}

// Cancel stops the transmission. The sink is silenced before Done fires.
func (t *Transmission) Cancel() { t.cancel() }

// Done yields nil on completion, ErrCancelled after Cancel, or the sink error.
func (t *Transmission) Done() <-chan error { return t.done }

func (t *Transmission) Wait() error { return <-t.done }

// Send encodes the file, computes the whole schedule up front and hands it to
// the sink in the background.
func (tx *Transmitter) Send(ctx context.Context, payload []byte, meta Metadata) (*Transmission, error) {
	if rate := tx.sink.SampleRate(); rate != tx.cfg.SampleRate {
		return nil, fmt.Errorf("%w: sink runs at %d Hz, protocol expects %d Hz", ErrSetup, rate, tx.cfg.SampleRate)
	}
	symbols, err := Encode(payload, meta)
	if err != nil {
		return nil, err
	}
	sched := BuildSchedule(tx.cfg, symbols, 0)
	ctx, cancel := context.WithCancel(ctx)
	t := &Transmission{
		Metadata: meta,
		Schedule: sched,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	tx.logger.Info().Str("name", meta.Name).Int("size", meta.Size).Int("symbols", len(symbols)).
		Dur("duration", sched.Duration()).Msg("Start transmitting ...")
	go func() {
		defer cancel()
		start := time.Now()
		err := tx.sink.Play(ctx, sched)
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = errors.Join(ErrCancelled, err)
		}
		if err != nil {
			tx.logger.Warn().Err(err).Msg("transmission stopped")
		} else {
			tx.logger.Info().Dur("elapsed", time.Since(start)).Msg("End transmitting ...")
		}
		t.done <- err
		close(t.done)
	}()
	return t, nil
}

// ChannelSink renders a schedule into chunks on a buffered channel, drained
// by an audio callback that outputs silence whenever the channel is empty.
type ChannelSink struct {
	rate         int
	chunk        int
	ch           chan []float64
	Monitor      func([]float64) // optional tap on everything played
	DrainTimeout time.Duration   // how long the callback may leave queued audio untaken
}

func NewChannelSink(sampleRate, chunk, depth int) *ChannelSink {
	return &ChannelSink{
		rate:         sampleRate,
		chunk:        chunk,
		ch:           make(chan []float64, depth),
		DrainTimeout: 2 * time.Second,
	}
}

func (s *ChannelSink) SampleRate() int { return s.rate }

// Samples is read by the device callback.
func (s *ChannelSink) Samples() <-chan []float64 { return s.ch }

func (s *ChannelSink) Play(ctx context.Context, sched Schedule) error {
	r := NewRenderer(sched, s.rate)
	for {
		buf := make([]float64, s.chunk)
		n := r.Read(buf)
		if n == 0 {
			break
		}
		buf = buf[:n]
		select {
		case s.ch <- buf:
			if s.Monitor != nil {
				s.Monitor(buf)
			}
		case <-ctx.Done():
			s.silence(r)
			return ErrCancelled
		}
	}
	if err := s.waitDrained(ctx); err != nil {
		s.silence(r)
		return err
	}
	return nil
}

// silence discards every unplayed chunk and queues a short fade to zero.
func (s *ChannelSink) silence(r *Renderer) {
drain:
	for {
		select {
		case <-s.ch:
		default:
			break drain
		}
	}
	tail := r.Tail(s.rate / 200) // 5 ms
	select {
	case s.ch <- tail:
	default:
	}
	s.waitDrained(context.Background())
}

// waitDrained blocks until the callback has taken every queued chunk. It
// returns ErrCancelled if ctx ends first and ErrPlaybackStalled if the
// callback stops taking audio.
func (s *ChannelSink) waitDrained(ctx context.Context) error {
	deadline := time.Now().Add(s.DrainTimeout)
	for len(s.ch) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(time.Millisecond):
		}
	}
	if n := len(s.ch); n > 0 {
		return fmt.Errorf("%w: %d chunks still queued after %s", ErrPlaybackStalled, n, s.DrainTimeout)
	}
	return nil
}
