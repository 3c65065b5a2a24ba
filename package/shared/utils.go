package shared

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
)

// ReadFromCsvFile loads a track saved by SaveTrackToFile.
func ReadFromCsvFile(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	var result []float64
	for _, record := range records {
		for _, value := range record {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, err
			}
			result = append(result, v)
		}
	}
	return result, nil
}

// SaveTrackToFile writes one sample per line, for plotting.
func SaveTrackToFile(filename string, track []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for _, sample := range track {
		if err := writer.Write([]string{strconv.FormatFloat(sample, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WAVHeader is the canonical 44 byte PCM header.
type WAVHeader struct {
	RiffID        [4]byte // "RIFF"
	FileSize      uint32  // 4 + (8 + FmtSize) + (8 + DataSize)
	WaveID        [4]byte // "WAVE"
	FmtID         [4]byte // "fmt "
	FmtSize       uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16
	DataID        [4]byte // "data"
	DataSize      uint32
}

// WriteWAV stores a mono track as 16-bit PCM.
func WriteWAV(w io.Writer, track []float64, sampleRate int) error {
	dataSize := uint32(2 * len(track))
	header := WAVHeader{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		FileSize:      36 + dataSize,
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("writing WAV header: %w", err)
	}
	pcm := make([]int16, len(track))
	for i, v := range track {
		pcm[i] = int16(math.Round(math.Max(-1, math.Min(1, v)) * math.MaxInt16))
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("writing WAV data: %w", err)
	}
	return nil
}

func WriteWAVFile(filename string, track []float64, sampleRate int) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteWAV(file, track, sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadWAV decodes 16-bit PCM. Multi-channel files keep the first channel.
func ReadWAV(r io.Reader) ([]float64, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("reading RIFF header: %w", err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return nil, 0, fmt.Errorf("not a WAV file")
	}
	var (
		channels, bits uint16
		rate           uint32
		haveFmt        bool
	)
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return nil, 0, fmt.Errorf("WAV data chunk not found: %w", err)
		}
		body := make([]byte, chunk.Size+chunk.Size%2)
		got, err := io.ReadFull(r, body)
		if err != nil {
			// recorders that die mid-file leave a short data chunk
			if string(chunk.ID[:]) != "data" || err != io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("reading %q chunk: %w", chunk.ID[:], err)
			}
		}
		body = body[:got]
		switch string(chunk.ID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, fmt.Errorf("unsupported WAV format %d", format)
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			if bits != 16 || channels == 0 {
				return nil, 0, fmt.Errorf("unsupported WAV layout: %d channels, %d bits", channels, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("WAV data before fmt chunk")
			}
			frame := 2 * int(channels)
			n := min(int(chunk.Size), len(body)) / frame
			track := make([]float64, n)
			for i := range track {
				v := int16(binary.LittleEndian.Uint16(body[i*frame:]))
				track[i] = float64(v) / math.MaxInt16
			}
			return track, int(rate), nil
		}
	}
}

func ReadWAVFile(filename string) ([]float64, int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return ReadWAV(file)
}

// SliceSource replays a recorded track in fixed size buffers.
type SliceSource struct {
	track []float64
	chunk int
	rate  int
	stop  chan struct{}
	once  sync.Once
}

func NewSliceSource(track []float64, sampleRate, chunk int) *SliceSource {
	return &SliceSource{track: track, chunk: chunk, rate: sampleRate, stop: make(chan struct{})}
}

// NewFileSource loads a WAV or CSV track.
func NewFileSource(filename string, chunk int, defaultRate int) (*SliceSource, error) {
	if ext := extension(filename); ext == ".csv" {
		track, err := ReadFromCsvFile(filename)
		if err != nil {
			return nil, err
		}
		return NewSliceSource(track, defaultRate, chunk), nil
	}
	track, rate, err := ReadWAVFile(filename)
	if err != nil {
		return nil, err
	}
	return NewSliceSource(track, rate, chunk), nil
}

func (s *SliceSource) SampleRate() int { return s.rate }

func (s *SliceSource) Open(ctx context.Context) (<-chan []float64, error) {
	ch := make(chan []float64, 16)
	go func() {
		defer close(ch)
		for i := 0; i < len(s.track); i += s.chunk {
			end := min(i+s.chunk, len(s.track))
			buf := make([]float64, end-i)
			copy(buf, s.track[i:end])
			select {
			case ch <- buf:
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
	return ch, nil
}

func (s *SliceSource) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// RecordingSource copies everything another source delivers into Track.
type RecordingSource struct {
	Source
	mu    sync.Mutex
	track []float64
}

func NewRecordingSource(src Source) *RecordingSource {
	return &RecordingSource{Source: src}
}

func (r *RecordingSource) Open(ctx context.Context) (<-chan []float64, error) {
	in, err := r.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan []float64, cap(in))
	go func() {
		defer close(out)
		for {
			var buf []float64
			var ok bool
			select {
			case buf, ok = <-in:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			r.mu.Lock()
			r.track = append(r.track, buf...)
			r.mu.Unlock()
			select {
			case out <- buf:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *RecordingSource) Track() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.track...)
}

// WAVSink renders the schedule into a WAV file instead of a device.
type WAVSink struct {
	Filename string
	Rate     int
	Padding  float64 // seconds of silence on both sides
}

func (s *WAVSink) SampleRate() int { return s.Rate }

func (s *WAVSink) Play(ctx context.Context, sched Schedule) error {
	pad := make([]float64, int(s.Padding*float64(s.Rate)))
	track := append([]float64(nil), pad...)
	r := NewRenderer(sched, s.Rate)
	buf := make([]float64, 4096)
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		n := r.Read(buf)
		if n == 0 {
			break
		}
		track = append(track, buf[:n]...)
	}
	track = append(track, pad...)
	return WriteWAVFile(s.Filename, track, s.Rate)
}
