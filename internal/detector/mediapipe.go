package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gocv.io/x/gocv"
)

// IdleShutdown is how long the MediaPipe process may sit unused before it is
// stopped. It restarts lazily on the next call.
const IdleShutdown = 30 * time.Second

// maxFrameBytes bounds one encoded frame on the wire.
const maxFrameBytes = 1 << 26

// ErrScriptNotFound is returned when mediapipe_service.py cannot be located.
var ErrScriptNotFound = errors.New("mediapipe_service.py not found")

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// MediaPipeLandmarker implements HandLandmarker with a Python MediaPipe
// subprocess. Each request is a 4-byte big-endian length followed by a JPEG
// on stdin; each reply is one JSON line on stdout.
type MediaPipeLandmarker struct {
	config Config
	script string
	python string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	idleTimer *time.Timer
}

// NewMediaPipeLandmarker resolves the service script and interpreter. The
// Python process is started lazily on first use.
func NewMediaPipeLandmarker(config Config) (*MediaPipeLandmarker, error) {
	script := config.ScriptPath
	if script == "" {
		script = firstExisting(searchPaths("scripts/mediapipe_service.py"))
	} else if _, err := os.Stat(script); err != nil {
		script = ""
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}

	python := config.PythonPath
	if python == "" {
		python = firstExisting(searchPaths("venv/bin/python"))
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeLandmarker{config: config, script: script, python: python}, nil
}

// Landmarks sends img to the service and returns the hands it found, in
// image-normalized space. Calls are serialized.
func (d *MediaPipeLandmarker) Landmarks(img *gocv.Mat) ([]HandLandmarks, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	if err := writeFrame(d.stdin, buf.GetBytes()); err != nil {
		return nil, d.fail(err)
	}
	hands, err := readHands(d.stdout)
	if err != nil {
		var syntaxErr *replyError
		if errors.As(err, &syntaxErr) {
			return nil, err
		}
		return nil, d.fail(err)
	}

	d.resetIdleTimer()
	return hands, nil
}

// Close shuts down the Python process.
func (d *MediaPipeLandmarker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeLandmarker) ensureStarted() error {
	if d.cmd != nil {
		return nil
	}

	cmd := exec.Command(d.python, d.script)
	cmd.Env = append(os.Environ(),
		"MEDIAPIPE_MAX_HANDS="+strconv.Itoa(d.config.MaxHands),
		"MEDIAPIPE_MIN_DETECTION_CONFIDENCE="+strconv.FormatFloat(d.config.MinConfidence, 'f', 2, 64),
		"MEDIAPIPE_MIN_TRACKING_CONFIDENCE="+strconv.FormatFloat(d.config.MinTrackingConf, 'f', 2, 64),
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	return nil
}

// fail tears down a broken subprocess so the next call starts a fresh one.
// d.mu must be held.
func (d *MediaPipeLandmarker) fail(err error) error {
	d.shutdown()
	return err
}

func (d *MediaPipeLandmarker) shutdown() error {
	if d.cmd == nil {
		return nil
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	d.stdin.Close()
	err := d.cmd.Wait()
	d.cmd, d.stdin, d.stdout = nil, nil, nil
	return err
}

func (d *MediaPipeLandmarker) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(IdleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// writeFrame writes one length-prefixed JPEG.
func writeFrame(w io.Writer, jpeg []byte) error {
	if len(jpeg) == 0 || len(jpeg) > maxFrameBytes {
		return fmt.Errorf("write frame: invalid size %d", len(jpeg))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(jpeg)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// replyError is a reply that arrived intact but could not be decoded. The
// stream is still in sync, so the process is kept.
type replyError struct{ err error }

func (e *replyError) Error() string { return "parse mediapipe reply: " + e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

type serviceReply struct {
	Hands []serviceHand `json:"hands"`
	Error string        `json:"error,omitempty"`
}

type serviceHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

// readHands reads one JSON reply line.
func readHands(r *bufio.Reader) ([]HandLandmarks, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read mediapipe reply: %w", err)
	}

	var reply serviceReply
	if err := codec.Unmarshal(line, &reply); err != nil {
		return nil, &replyError{err}
	}
	if reply.Error != "" {
		return nil, &replyError{errors.New(reply.Error)}
	}

	hands := make([]HandLandmarks, len(reply.Hands))
	for i, h := range reply.Hands {
		hands[i] = HandLandmarks{Handedness: h.Handedness, Score: h.Score}
		copy(hands[i].Points[:], h.Points)
	}
	return hands, nil
}

// searchPaths lists where a bundled file may live: the working directory,
// its parents, next to the executable and under ~/.duocam.
func searchPaths(rel string) []string {
	paths := []string{rel, filepath.Join("..", rel), filepath.Join("..", "..", rel)}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), rel))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".duocam", rel))
	}
	return paths
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}
