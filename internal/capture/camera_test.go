package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestNewCameraWithSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"explicit size", 1280, 720, 1280, 720},
		{"zero falls back", 0, 0, DefaultWidth, DefaultHeight},
		{"negative falls back", -1, 240, DefaultWidth, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCameraWithSize(0, tt.width, tt.height).(*deviceCamera)

			if cam.width != tt.wantW || cam.height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", cam.width, cam.height, tt.wantW, tt.wantH)
			}
			if cam.FPS() != DefaultFPS {
				t.Errorf("FPS() = %d, want %d", cam.FPS(), DefaultFPS)
			}
			if cam.IsOpen() {
				t.Error("camera should not be open before Open()")
			}
		})
	}
}

func TestDeviceCamera_SetFPS(t *testing.T) {
	cam := NewCameraWithSize(0, 0, 0)

	for _, step := range []struct{ set, want int }{
		{10, 10},
		{1, 1},
		{0, 1},
		{-5, 1},
		{60, 60},
	} {
		cam.SetFPS(step.set)
		if got := cam.FPS(); got != step.want {
			t.Errorf("SetFPS(%d): FPS() = %d, want %d", step.set, got, step.want)
		}
	}
}

func TestDeviceCamera_NotOpened(t *testing.T) {
	cam := NewCameraWithSize(0, 0, 0)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() on an unopened camera = %v, want nil", err)
	}
}

func TestDeviceCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCameraWithSize(0, 640, 480)
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}

	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestMockCamera_Playback(t *testing.T) {
	a := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer a.Close()
	b := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
	defer b.Close()

	cam := NewMockCamera([]*gocv.Mat{&a, &b}, false)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() before Open error = %v", err)
	}

	cam.Open()
	defer cam.Close()

	for i, wantCols := range []int{64, 32} {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("read %d error = %v", i, err)
		}
		if f.Cols() != wantCols {
			t.Errorf("read %d cols = %d, want %d", i, f.Cols(), wantCols)
		}
		f.Close()
	}

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrFrameUnavailable) {
		t.Errorf("read past the end error = %v, want ErrFrameUnavailable", err)
	}
	if cam.Reads() != 2 {
		t.Errorf("Reads() = %d, want 2", cam.Reads())
	}
}

func TestMockCamera_LoopAndStall(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	cam.Stall(2)
	for i := 0; i < 2; i++ {
		if _, err := cam.ReadFrame(); !errors.Is(err, ErrFrameUnavailable) {
			t.Errorf("stalled read %d error = %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("looped read %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_OpenError(t *testing.T) {
	cam := NewMockCamera(nil, false)
	cam.SetOpenError(errors.New("busy"))

	if err := cam.Open(); err == nil {
		t.Error("Open() should fail")
	}
	if cam.IsOpen() {
		t.Error("camera should stay closed")
	}
}
