package shared

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	FieldSeparator  = 0x1F
	RecordSeparator = 0x1E
)

// Metadata describes the transferred file.
type Metadata struct {
	Name string
	Type string
	Size int
}

// Decoded is the outcome of a structurally successful decode. A checksum
// mismatch is reported through ChecksumValid, not as an error. A frame that
// ends before Size payload bytes is never valid, even if its last byte happens
// to match the checksum of the shortened body.
type Decoded struct {
	Metadata      Metadata
	Payload       []byte
	ChecksumValid bool
	Received      byte // checksum carried by the frame
	Computed      byte
	Truncated     bool // fewer than Metadata.Size payload bytes arrived
}

// HeaderBytes serializes the header: name FS type FS size RS.
func HeaderBytes(meta Metadata) []byte {
	var buf bytes.Buffer
	buf.WriteString(meta.Name)
	buf.WriteByte(FieldSeparator)
	buf.WriteString(meta.Type)
	buf.WriteByte(FieldSeparator)
	buf.WriteString(strconv.Itoa(meta.Size))
	buf.WriteByte(RecordSeparator)
	return buf.Bytes()
}

func EstimateTotalSymbols(meta Metadata) int {
	return 2 * (len(HeaderBytes(meta)) + meta.Size + 1)
}

func validateMetadata(meta Metadata) error {
	if strings.ContainsAny(meta.Name, "\x1f\x1e") || strings.ContainsAny(meta.Type, "\x1f\x1e") {
		return ErrUnsupportedMetadata
	}
	if meta.Size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, meta.Size)
	}
	return nil
}

// FrameBytes builds header + payload + checksum.
func FrameBytes(payload []byte, meta Metadata) ([]byte, error) {
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}
	if meta.Size != len(payload) {
		return nil, fmt.Errorf("%w: metadata says %d bytes, payload has %d", ErrInvalidSize, meta.Size, len(payload))
	}
	frame := HeaderBytes(meta)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame)), nil
}

// Encode turns a file into its symbol stream, two nibbles per byte.
func Encode(payload []byte, meta Metadata) ([]byte, error) {
	frame, err := FrameBytes(payload, meta)
	if err != nil {
		return nil, err
	}
	return BytesToSymbols(frame), nil
}

func BytesToSymbols(data []byte) []byte {
	symbols := make([]byte, 0, 2*len(data))
	for _, b := range data {
		symbols = append(symbols, b>>4, b&0x0F)
	}
	return symbols
}

// SymbolsToBytes packs symbol pairs, high nibble first. A trailing odd symbol
// is dropped.
func SymbolsToBytes(symbols []byte) []byte {
	data := make([]byte, len(symbols)/2)
	for i := range data {
		data[i] = symbols[2*i]<<4 | symbols[2*i+1]&0x0F
	}
	return data
}

// ParseHeader locates and parses the header at the start of data. It returns
// the metadata and the header length in bytes, terminator included.
func ParseHeader(data []byte) (Metadata, int, error) {
	end := bytes.IndexByte(data, RecordSeparator)
	if end < 0 {
		return Metadata{}, 0, ErrHeaderNotFound
	}
	text, err := decodeUTF8(data[:end])
	if err != nil {
		return Metadata{}, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	fields := strings.Split(text, string(rune(FieldSeparator)))
	if len(fields) < 3 {
		return Metadata{}, 0, fmt.Errorf("%w: %d fields", ErrMalformedHeader, len(fields))
	}
	size, err := strconv.Atoi(fields[2])
	if err != nil || size <= 0 {
		return Metadata{}, 0, fmt.Errorf("%w: %q", ErrInvalidSize, fields[2])
	}
	return Metadata{Name: fields[0], Type: fields[1], Size: size}, end + 1, nil
}

// Decode rebuilds the file from a received symbol stream.
func Decode(symbols []byte) (Decoded, error) {
	if len(symbols) < MIN_FRAME_SYMBOLS {
		return Decoded{}, fmt.Errorf("%w: %d symbols", ErrFrameTooShort, len(symbols))
	}
	data := SymbolsToBytes(symbols)
	body, received := data[:len(data)-1], data[len(data)-1]
	computed := Checksum(body)

	meta, headerLen, err := ParseHeader(body)
	if err != nil {
		return Decoded{}, err
	}
	end := headerLen + meta.Size
	truncated := end > len(body)
	if truncated {
		end = len(body)
	}
	payload := make([]byte, end-headerLen)
	copy(payload, body[headerLen:end])
	return Decoded{
		Metadata:      meta,
		Payload:       payload,
		ChecksumValid: received == computed && !truncated,
		Received:      received,
		Computed:      computed,
		Truncated:     truncated,
	}, nil
}

// Invalid sequences become U+FFFD. Header bytes are located before decoding,
// so replacement never shifts the payload offset.
func decodeUTF8(raw []byte) (string, error) {
	out, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
