// Package jackio connects the link to a JACK server: one capture port feeding
// the receiver and one playback port fed by the transmitter.
package jackio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"acoustic_drop/package/shared"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xthexder/go-jack"
)

type Device struct {
	client  *jack.Client
	inPort  *jack.Port
	outPort *jack.Port
	rate    int
	sink    *shared.ChannelSink
	input   chan []float64
	logger  zerolog.Logger

	capturing atomic.Bool
	overruns  atomic.Int64
	pending   []float64    // owned by the process callback
	ring      *captureRing // owned by the process callback
	closeOnce sync.Once
}

const (
	captureDepth = 64   // buffers queued towards the receiver
	periodHint   = 1024 // frames preallocated per capture buffer
)

// captureRing hands out capture buffers round robin so the realtime callback
// does not allocate once the period size is known. A slot is overwritten
// len(bufs) periods after it was handed out, so the ring must be deeper than
// everything that can hold a captured buffer: the capture channel and any
// queue a consumer keeps behind it.
type captureRing struct {
	bufs [][]float64
	next int
}

func newCaptureRing(slots, frames int) *captureRing {
	r := &captureRing{bufs: make([][]float64, slots)}
	for i := range r.bufs {
		r.bufs[i] = make([]float64, frames)
	}
	return r
}

func (r *captureRing) fill(in []jack.AudioSample) []float64 {
	buf := r.bufs[r.next]
	if cap(buf) < len(in) {
		// period size grew; reallocate this slot once
		buf = make([]float64, len(in))
		r.bufs[r.next] = buf
	}
	buf = buf[:len(in)]
	for i, sample := range in {
		buf[i] = float64(sample)
	}
	r.next = (r.next + 1) % len(r.bufs)
	return buf
}

// Open registers the client and connects it to the system ports.
func Open(name, capturePort, playbackPort string) (*Device, error) {
	client, _ := jack.ClientOpen(name, jack.NoStartServer)
	if client == nil {
		return nil, fmt.Errorf("%w: could not connect to jack server", shared.ErrAcquisition)
	}
	d := &Device{
		client: client,
		rate:   int(client.GetSampleRate()),
		input:  make(chan []float64, captureDepth),
		ring:   newCaptureRing(4*captureDepth, periodHint),
		logger: log.With().Str("component", "jack").Logger(),
	}
	d.sink = shared.NewChannelSink(d.rate, 1024, 256)

	d.inPort = client.PortRegister("input", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
	d.outPort = client.PortRegister("output", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
	if d.inPort == nil || d.outPort == nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to register ports", shared.ErrSetup)
	}
	if code := client.SetProcessCallback(d.process); code != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: failed to set process callback (%d)", shared.ErrSetup, code)
	}
	if code := client.Activate(); code != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: failed to activate client (%d)", shared.ErrSetup, code)
	}

	systemIn := client.GetPortByName(capturePort)
	systemOut := client.GetPortByName(playbackPort)
	if systemIn == nil || systemOut == nil {
		client.Close()
		return nil, fmt.Errorf("%w: system ports %q / %q not found", shared.ErrAcquisition, capturePort, playbackPort)
	}
	if code := client.ConnectPorts(systemIn, d.inPort); code != 0 {
		d.logger.Warn().Int("code", code).Msg("connecting capture port")
	}
	if code := client.ConnectPorts(d.outPort, systemOut); code != 0 {
		d.logger.Warn().Int("code", code).Msg("connecting playback port")
	}
	d.logger.Info().Int("sample_rate", d.rate).Msg("jack client active")
	return d, nil
}

// process runs on the JACK realtime thread and must never block.
func (d *Device) process(nframes uint32) int {
	inBuffer := d.inPort.GetBuffer(nframes)
	outBuffer := d.outPort.GetBuffer(nframes)

	for i := range outBuffer {
		if len(d.pending) == 0 {
			select {
			case buf := <-d.sink.Samples():
				d.pending = buf
			default:
			}
		}
		if len(d.pending) > 0 {
			outBuffer[i] = jack.AudioSample(d.pending[0])
			d.pending = d.pending[1:]
		} else {
			outBuffer[i] = 0.0
		}
	}

	if d.capturing.Load() {
		buf := d.ring.fill(inBuffer)
		select {
		case d.input <- buf:
		default:
			d.overruns.Add(1)
		}
	}
	return 0
}

func (d *Device) SampleRate() int { return d.rate }

// Sink is the playback side.
func (d *Device) Sink() *shared.ChannelSink { return d.sink }

// Source is the capture side. Closing it stops capture but leaves the client
// running for playback.
func (d *Device) Source() shared.Source { return &captureSource{d: d} }

func (d *Device) Overruns() int64 { return d.overruns.Load() }

func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.capturing.Store(false)
		if code := d.client.Close(); code != 0 {
			d.logger.Warn().Int("code", code).Msg("closing jack client")
		}
	})
	return nil
}

type captureSource struct {
	d    *Device
	once sync.Once
}

func (c *captureSource) SampleRate() int { return c.d.rate }

func (c *captureSource) Open(ctx context.Context) (<-chan []float64, error) {
	// drop anything captured before this session
	for len(c.d.input) > 0 {
		<-c.d.input
	}
	c.d.capturing.Store(true)
	return c.d.input, nil
}

func (c *captureSource) Close() error {
	c.once.Do(func() {
		c.d.capturing.Store(false)
		if n := c.d.Overruns(); n > 0 {
			c.d.logger.Warn().Int64("dropped_buffers", n).Msg("capture overruns")
		}
	})
	return nil
}
