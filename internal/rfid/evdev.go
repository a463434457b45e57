package rfid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// DeviceNamePrefix selects a device by its kernel name instead of its path.
const DeviceNamePrefix = "name:"

// EventSource yields input events one at a time. *evdev.InputDevice
// satisfies it.
type EventSource interface {
	ReadOne() (*evdev.InputEvent, error)
}

// OpenDevice opens an evdev input device. spec is a /dev/input path or
// "name:<label>", where label is the kernel device name exactly as
// reported, trailing spaces included.
func OpenDevice(spec string) (*evdev.InputDevice, error) {
	label, byName := strings.CutPrefix(spec, DeviceNamePrefix)
	if !byName {
		dev, err := evdev.Open(spec)
		if err != nil {
			return nil, fmt.Errorf("opening input device %s: %w", spec, err)
		}
		return dev, nil
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("listing input devices: %w", err)
	}
	for _, p := range paths {
		if p.Name == label {
			dev, err := evdev.Open(p.Path)
			if err != nil {
				return nil, fmt.Errorf("opening input device %s: %w", p.Path, err)
			}
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, label)
}

// StreamSource decodes raw struct input_event records from a capture file
// or pipe. The timestamp fields are C longs, so a record is 16 bytes on
// 32-bit kernels and 24 on 64-bit ones.
type StreamSource struct {
	r    io.Reader
	word int
	buf  []byte
}

// NewStreamSource reads records in the host's layout.
func NewStreamSource(r io.Reader) *StreamSource {
	return newStreamSource(r, strconv.IntSize/8)
}

func newStreamSource(r io.Reader, word int) *StreamSource {
	return &StreamSource{r: r, word: word, buf: make([]byte, 2*word+8)}
}

// ReadOne returns the next event. A truncated final record reads as io.EOF.
func (s *StreamSource) ReadOne() (*evdev.InputEvent, error) {
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	rec := s.buf[2*s.word:]
	return &evdev.InputEvent{
		Type:  evdev.EvType(binary.NativeEndian.Uint16(rec[0:2])),
		Code:  evdev.EvCode(binary.NativeEndian.Uint16(rec[2:4])),
		Value: int32(binary.NativeEndian.Uint32(rec[4:8])),
	}, nil
}

const keyRelease = 0

// Decoder turns key-release events from a keyboard-style badge reader
// into identifiers. Digits accumulate until Enter.
type Decoder struct {
	digits []byte
}

// Feed consumes one event. It returns the identifier and true when e
// completes one; key presses, repeats and non-digit keys are ignored.
func (d *Decoder) Feed(e *evdev.InputEvent) (string, bool) {
	if e.Type != evdev.EV_KEY || e.Value != keyRelease {
		return "", false
	}

	switch {
	case e.Code == evdev.KEY_ENTER || e.Code == evdev.KEY_KPENTER:
		id := string(d.digits)
		d.digits = d.digits[:0]
		return id, true
	case e.Code >= evdev.KEY_1 && e.Code <= evdev.KEY_9:
		d.digits = append(d.digits, byte('1'+e.Code-evdev.KEY_1))
	case e.Code == evdev.KEY_0:
		d.digits = append(d.digits, '0')
	}
	return "", false
}
