package recording

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// defaultOpenTimeout bounds how long PCMSource.Open waits for a FIFO writer.
const defaultOpenTimeout = 5 * time.Second

// ErrOverrun is returned by a capture device when it dropped audio because
// the reader fell behind. The engine counts it and keeps reading.
var ErrOverrun = errors.New("capture buffer overrun")

// CaptureDevice delivers mono 16-bit samples at the rate it was opened with.
// Read blocks until at least one sample is available. Close unblocks a
// pending Read, which then returns an error.
type CaptureDevice interface {
	Read(buf []int16) (int, error)
	Close() error
}

// DeviceOpener opens the capture device for a call at the given sample rate.
type DeviceOpener interface {
	Open(sampleRate int) (CaptureDevice, error)
}

// DeviceOpenerFunc adapts a function to DeviceOpener.
type DeviceOpenerFunc func(sampleRate int) (CaptureDevice, error)

// Open calls f(sampleRate).
func (f DeviceOpenerFunc) Open(sampleRate int) (CaptureDevice, error) {
	return f(sampleRate)
}

// PCMSource opens a file or FIFO carrying raw signed 16-bit little-endian
// mono samples, as written by the platform audio bridge. The bridge is
// responsible for delivering audio at the requested rate.
type PCMSource struct {
	Path string

	// OpenTimeout bounds the wait for the writer end of a FIFO. Zero means
	// five seconds.
	OpenTimeout time.Duration
}

// Open implements DeviceOpener.
func (s PCMSource) Open(sampleRate int) (CaptureDevice, error) {
	if s.Path == "" {
		return nil, errors.New("no capture source configured")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	return &pcmDevice{f: f, r: bufio.NewReaderSize(f, 16*1024)}, nil
}

type openResult struct {
	f   *os.File
	err error
}

// open runs os.Open on its own goroutine so a FIFO without a writer cannot
// hold the caller past OpenTimeout. A late open is closed on arrival.
func (s PCMSource) open() (*os.File, error) {
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	ch := make(chan openResult, 1)
	go func() {
		f, err := os.Open(s.Path)
		ch <- openResult{f: f, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("opening capture source: %w", r.err)
		}
		return r.f, nil
	case <-timer.C:
		go func() {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
		}()
		return nil, fmt.Errorf("opening capture source %s: no writer after %s", s.Path, timeout)
	}
}

type pcmDevice struct {
	f   *os.File
	r   *bufio.Reader
	raw []byte

	closeOnce sync.Once
	closeErr  error
}

// Read fills buf with whole samples. A trailing odd byte at end of stream is
// discarded.
func (d *pcmDevice) Read(buf []int16) (int, error) {
	need := len(buf) * 2
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]

	n, err := io.ReadAtLeast(d.r, raw, 2)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if n%2 == 1 {
		// Keep stream alignment for the next read.
		if b, rerr := d.r.ReadByte(); rerr == nil && samples < len(buf) {
			buf[samples] = int16(binary.LittleEndian.Uint16([]byte{raw[n-1], b}))
			samples++
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (d *pcmDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.f.Close()
	})
	return d.closeErr
}
