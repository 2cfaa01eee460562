package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/logger"
)

// Configuration stage errors returned by Device methods.
var (
	ErrInputNotAdded  = errors.New("device input not added")
	ErrOutputNotAdded = errors.New("device output not added")
	ErrEmptyFrameSize = errors.New("device reports an empty frame size")
)

// PlatformConfig maps each Source to an OpenCV device index.
type PlatformConfig struct {
	DeviceIDs [NumSources]int
	Width     int
	Height    int
	FPS       int
	Notifier  Notifier
	Logger    logrus.FieldLogger

	// OpenCamera overrides how cameras are created. Defaults to NewCameraWithSize.
	OpenCamera func(deviceID, width, height int) Camera
	// DevicePath returns the device node for an index, or "" when the
	// platform has no device nodes. Defaults to /dev/videoN on Linux.
	DevicePath func(deviceID int) string
}

// Platform is the desktop camera collaborator built on OpenCV device
// indices. It implements the session's platform contract.
type Platform struct {
	cfg PlatformConfig
	log logrus.FieldLogger

	mu       sync.Mutex
	status   Authorization
	notifier Notifier
}

// NewPlatform creates a Platform from cfg.
func NewPlatform(cfg PlatformConfig) *Platform {
	if cfg.OpenCamera == nil {
		cfg.OpenCamera = NewCameraWithSize
	}
	if cfg.DevicePath == nil {
		cfg.DevicePath = defaultDevicePath
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Platform{
		cfg:      cfg,
		log:      logger.OrNop(cfg.Logger).WithField("component", "platform"),
		status:   AuthorizationNotDetermined,
		notifier: cfg.Notifier,
	}
}

// SetNotifier replaces the notifier handed to frame sources created from now on.
func (p *Platform) SetNotifier(n Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

func (p *Platform) currentNotifier() Notifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifier
}

func defaultDevicePath(deviceID int) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	return fmt.Sprintf("/dev/video%d", deviceID)
}

// AuthorizationStatus returns the last known permission status.
func (p *Platform) AuthorizationStatus() Authorization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RequestAccess probes every configured device node. OpenCV has no consent
// prompt, so access is granted unless a node refuses us with a permission
// error.
func (p *Platform) RequestAccess(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	status := Authorized
	for _, src := range Sources {
		path := p.cfg.DevicePath(p.cfg.DeviceIDs[src])
		if path == "" {
			continue
		}
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			continue
		}
		if errors.Is(err, fs.ErrPermission) {
			p.log.WithField("device", path).Warn("Camera access denied")
			status = Denied
			break
		}
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	return status == Authorized, nil
}

// MultiCamSupported reports whether the two sources are backed by distinct
// devices.
func (p *Platform) MultiCamSupported() bool {
	return p.cfg.DeviceIDs[Front] != p.cfg.DeviceIDs[Rear]
}

// EnumerateDevice returns the device configured for src, or false when its
// device node does not exist.
func (p *Platform) EnumerateDevice(src Source) (Device, bool) {
	if !src.Valid() {
		return nil, false
	}
	id := p.cfg.DeviceIDs[src]
	if path := p.cfg.DevicePath(id); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, false
		}
	}
	return &cameraDevice{
		src:      src,
		deviceID: id,
		platform: p,
	}, true
}

// cameraDevice stages one OpenCV camera into a session.
type cameraDevice struct {
	src      Source
	deviceID int
	platform *Platform

	camera Camera
	output *CameraSource
}

func (d *cameraDevice) Source() Source {
	return d.src
}

// AddInput opens the camera.
func (d *cameraDevice) AddInput() error {
	cfg := d.platform.cfg
	cam := cfg.OpenCamera(d.deviceID, cfg.Width, cfg.Height)
	cam.SetFPS(cfg.FPS)
	if err := cam.Open(); err != nil {
		return fmt.Errorf("open device %d: %w", d.deviceID, err)
	}
	d.camera = cam
	return nil
}

// AddOutput creates the frame source reading from the opened camera.
func (d *cameraDevice) AddOutput() (FrameSource, error) {
	if d.camera == nil {
		return nil, ErrInputNotAdded
	}
	d.output = NewCameraSource(d.src, d.camera, d.platform.currentNotifier(), d.platform.log)
	return d.output, nil
}

// AddConnection verifies the camera delivers frames and records mirroring.
func (d *cameraDevice) AddConnection(mirrored bool) error {
	if d.output == nil {
		return ErrOutputNotAdded
	}

	img, err := d.camera.ReadFrame()
	if err != nil {
		return fmt.Errorf("probe frame: %w", err)
	}
	defer img.Close()
	if img.Cols() == 0 || img.Rows() == 0 {
		return ErrEmptyFrameSize
	}

	d.output.SetMirrored(mirrored)
	return nil
}

// Remove stops the output and closes the camera.
func (d *cameraDevice) Remove() {
	if d.output != nil {
		d.output.Stop()
		d.output = nil
	}
	if d.camera != nil {
		if err := d.camera.Close(); err != nil {
			d.platform.log.WithError(err).WithField("source", d.src.String()).Warn("Error closing camera")
		}
		d.camera = nil
	}
}
