package recording

import (
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// Encoder turns captured 16-bit mono samples into an output file.
// Finalize completes the container (for WAV, the header rewrite) and Close
// releases the file. The engine calls each of them exactly once, in that
// order, regardless of how capture ended.
type Encoder interface {
	Encode(samples []int16) error
	Finalize() error
	Close() error
}

// Format selects the output container and codec.
type Format string

const (
	FormatWAV     Format = "wav"      // 16-bit linear PCM
	FormatWAVULaw Format = "wav-ulaw" // G.711 u-law in WAV
	FormatWAVALaw Format = "wav-alaw" // G.711 a-law in WAV
)

// Formats lists every supported output format.
var Formats = []Format{FormatWAV, FormatWAVULaw, FormatWAVALaw}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown recording format %q", s)
}

// Extension returns the file extension, without the dot, for the format.
func (f Format) Extension() string {
	return "wav"
}

// NewEncoder creates the output file at path and returns an encoder for it.
func NewEncoder(format Format, path string, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	switch format {
	case FormatWAV:
		w, err := createWAV(path, wavFormat{tag: wavFormatPCM, sampleRate: uint32(sampleRate), bitsPerSample: 16})
		if err != nil {
			return nil, err
		}
		return &pcmEncoder{w: w}, nil
	case FormatWAVULaw:
		w, err := createWAV(path, wavFormat{tag: wavFormatULaw, sampleRate: uint32(sampleRate), bitsPerSample: 8})
		if err != nil {
			return nil, err
		}
		return &g711Encoder{w: w, encode: g711.EncodeUlaw}, nil
	case FormatWAVALaw:
		w, err := createWAV(path, wavFormat{tag: wavFormatALaw, sampleRate: uint32(sampleRate), bitsPerSample: 8})
		if err != nil {
			return nil, err
		}
		return &g711Encoder{w: w, encode: g711.EncodeAlaw}, nil
	default:
		return nil, fmt.Errorf("unknown recording format %q", format)
	}
}

// appendPCM16 appends samples to buf as little-endian 16-bit PCM.
func appendPCM16(buf []byte, samples []int16) []byte {
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}

// pcmEncoder writes samples unchanged as 16-bit little-endian PCM.
type pcmEncoder struct {
	w   *wavWriter
	buf []byte
}

func (e *pcmEncoder) Encode(samples []int16) error {
	e.buf = appendPCM16(e.buf[:0], samples)
	return e.w.write(e.buf)
}

func (e *pcmEncoder) Finalize() error { return e.w.finalize() }
func (e *pcmEncoder) Close() error    { return e.w.close() }

// g711Encoder companders samples to 8-bit G.711.
type g711Encoder struct {
	w      *wavWriter
	encode func(lpcm []byte) []byte
	buf    []byte
}

func (e *g711Encoder) Encode(samples []int16) error {
	e.buf = appendPCM16(e.buf[:0], samples)
	return e.w.write(e.encode(e.buf))
}

func (e *g711Encoder) Finalize() error { return e.w.finalize() }
func (e *g711Encoder) Close() error    { return e.w.close() }
