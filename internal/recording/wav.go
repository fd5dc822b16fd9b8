package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header.
const wavHeaderSize = 44

// maxWAVDataSize keeps the RIFF chunk size within 32 bits.
const maxWAVDataSize = math.MaxUint32 - (wavHeaderSize - 8)

// ErrFileFull is returned by an encoder once the WAV data chunk cannot grow
// any further. The file written so far is still valid after Finalize.
var ErrFileFull = errors.New("wav data size limit reached")

// WAV format tags.
const (
	wavFormatPCM  = 1
	wavFormatALaw = 6
	wavFormatULaw = 7
)

// wavFormat describes the fmt sub-chunk of a mono WAV file.
type wavFormat struct {
	tag           uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func (f wavFormat) blockAlign() uint16 { return f.bitsPerSample / 8 }
func (f wavFormat) byteRate() uint32   { return f.sampleRate * uint32(f.blockAlign()) }

// buildWAVHeader returns the 44-byte header for a mono file holding
// dataSize bytes of sample data.
func buildWAVHeader(f wavFormat, dataSize uint32) [wavHeaderSize]byte {
	var hdr [wavHeaderSize]byte

	// RIFF header.
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")

	// fmt sub-chunk.
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], f.tag)
	binary.LittleEndian.PutUint16(hdr[22:24], 1) // mono
	binary.LittleEndian.PutUint32(hdr[24:28], f.sampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], f.byteRate())
	binary.LittleEndian.PutUint16(hdr[32:34], f.blockAlign())
	binary.LittleEndian.PutUint16(hdr[34:36], f.bitsPerSample)

	// data sub-chunk.
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	return hdr
}

// wavWriter owns a WAV file: it writes a zero-size header on creation,
// appends sample bytes, and rewrites the header in place on Finalize.
type wavWriter struct {
	file     *os.File
	format   wavFormat
	dataSize uint32
	limit    uint32
	final    bool
}

func createWAV(path string, format wavFormat) (*wavWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording file: %w", err)
	}

	hdr := buildWAVHeader(format, 0)
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing wav header: %w", err)
	}

	return &wavWriter{file: f, format: format, limit: maxWAVDataSize}, nil
}

// write appends sample bytes. It refuses a write that would push the data
// chunk past limit, leaving the file at its last whole frame.
func (w *wavWriter) write(p []byte) error {
	if uint64(w.dataSize)+uint64(len(p)) > uint64(w.limit) {
		return ErrFileFull
	}
	n, err := w.file.Write(p)
	w.dataSize += uint32(n)
	if err != nil {
		return fmt.Errorf("writing recording data: %w", err)
	}
	return nil
}

// finalize rewrites the header with the true data size. Calling it again
// is a no-op.
func (w *wavWriter) finalize() error {
	if w.final {
		return nil
	}
	w.final = true

	hdr := buildWAVHeader(w.format, w.dataSize)
	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("rewriting wav header: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("syncing recording file: %w", err)
	}
	return nil
}

func (w *wavWriter) close() error {
	return w.file.Close()
}
