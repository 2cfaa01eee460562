// Package capture provides the two camera feeds of a duocam session using GoCV (OpenCV).
package capture

import (
	"fmt"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Source identifies one physical camera feed.
type Source int

const (
	Front Source = iota
	Rear
	// NumSources is the size of the closed Source set. Arrays indexed by
	// Source use it as their length.
	NumSources
)

// Sources lists every valid Source in index order.
var Sources = [NumSources]Source{Front, Rear}

func (s Source) String() string {
	switch s {
	case Front:
		return "front"
	case Rear:
		return "rear"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Valid reports whether s is one of Front or Rear.
func (s Source) Valid() bool {
	return s >= 0 && s < NumSources
}

// ParseSource converts "front" or "rear" (case-insensitive) into a Source.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "front":
		return Front, nil
	case "rear", "back":
		return Rear, nil
	}
	return 0, fmt.Errorf("unknown source %q", name)
}

// MarshalText encodes s by name so JSON payloads read "front" and "rear".
func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid source %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names understood by ParseSource.
func (s *Source) UnmarshalText(text []byte) error {
	v, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var epoch = time.Now()

// Now returns the process-monotonic tick in nanoseconds used for frame
// timestamps. It never goes backwards.
func Now() int64 {
	return int64(time.Since(epoch))
}

// Frame is one captured image tagged with its source and capture tick.
// Whoever holds a Frame owns Image and must Close it exactly once.
type Frame struct {
	Source    Source
	Image     *gocv.Mat
	Timestamp int64
}

// NewFrame wraps img as a frame captured now.
func NewFrame(src Source, img *gocv.Mat) *Frame {
	return &Frame{Source: src, Image: img, Timestamp: Now()}
}

// Size returns the image dimensions, or zero for an empty frame.
func (f *Frame) Size() (width, height int) {
	if f == nil || f.Image == nil || f.Image.Empty() {
		return 0, 0
	}
	return f.Image.Cols(), f.Image.Rows()
}

// Close releases the underlying Mat. It is safe to call on a nil frame and
// idempotent.
func (f *Frame) Close() error {
	if f == nil || f.Image == nil {
		return nil
	}
	err := f.Image.Close()
	f.Image = nil
	return err
}

// Handler receives frames on the capture goroutine that produced them. It
// takes ownership of the frame and must not block.
type Handler func(*Frame)

// FrameSource represents one camera feed that pushes frames to a Handler on
// its own goroutine.
type FrameSource interface {
	Source() Source
	Start(h Handler) error
	Stop() error
}

// Authorization is the camera permission status reported by a platform.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	Authorized
	Denied
	Restricted
)

func (a Authorization) String() string {
	switch a {
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	default:
		return "not-determined"
	}
}

// Device is one camera that can be attached to a capture session stage by
// stage. Each Add call corresponds to one configuration stage; Remove undoes
// whatever stages succeeded.
type Device interface {
	Source() Source
	AddInput() error
	AddOutput() (FrameSource, error)
	AddConnection(mirrored bool) error
	Remove()
}

// Notifier receives asynchronous session notifications raised by capture
// sources.
type Notifier interface {
	Interrupted(src Source, reason string)
	InterruptionEnded(src Source)
	RuntimeError(src Source, err error, transient bool)
}
