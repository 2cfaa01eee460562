package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

type recordingNotifier struct {
	mu          sync.Mutex
	interrupted int
	ended       int
	runtime     []bool
}

func (n *recordingNotifier) Interrupted(src Source, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interrupted++
}

func (n *recordingNotifier) InterruptionEnded(src Source) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended++
}

func (n *recordingNotifier) RuntimeError(src Source, err error, transient bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runtime = append(n.runtime, transient)
}

func (n *recordingNotifier) counts() (int, int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interrupted, n.ended, len(n.runtime)
}

func TestCameraSource_DeliversFrames(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.SetFPS(200)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	src := NewCameraSource(Rear, cam, nil, nil)

	got := make(chan *Frame, 16)
	if err := src.Start(func(f *Frame) {
		select {
		case got <- f:
		default:
			f.Close()
		}
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case f := <-got:
		if f.Source != Rear {
			t.Errorf("frame source = %v, want rear", f.Source)
		}
		if w, h := f.Size(); w != 64 || h != 48 {
			t.Errorf("frame size = %dx%d, want 64x48", w, h)
		}
		f.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	if err := src.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	// Drain anything delivered before Stop returned.
	for len(got) > 0 {
		(<-got).Close()
	}
}

func TestCameraSource_StartErrors(t *testing.T) {
	cam := NewMockCamera(nil, false)
	src := NewCameraSource(Front, cam, nil, nil)

	if err := src.Start(nil); err == nil {
		t.Error("Start(nil) should fail")
	}

	if err := src.Start(func(*Frame) {}); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("Start on closed camera error = %v, want ErrCameraNotOpen", err)
	}

	cam.Open()
	defer cam.Close()
	if err := src.Start(func(f *Frame) { f.Close() }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	if err := src.Start(func(f *Frame) { f.Close() }); !errors.Is(err, ErrSourceRunning) {
		t.Errorf("second Start error = %v, want ErrSourceRunning", err)
	}
}

func TestCameraSource_ReportsInterruption(t *testing.T) {
	// An open camera with no frames fails every read.
	cam := NewMockCamera(nil, false)
	cam.SetFPS(500)
	cam.Open()
	defer cam.Close()

	n := &recordingNotifier{}
	src := NewCameraSource(Front, cam, n, nil)
	if err := src.Start(func(f *Frame) { f.Close() }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		interrupted, _, runtimeErrs := n.counts()
		if interrupted == 1 && runtimeErrs == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	interrupted, ended, runtimeErrs := n.counts()
	if interrupted != 1 {
		t.Errorf("interruptions = %d, want 1", interrupted)
	}
	if ended != 0 {
		t.Errorf("interruption ends = %d, want 0", ended)
	}
	if runtimeErrs != 1 {
		t.Fatalf("runtime errors = %d, want 1", runtimeErrs)
	}
	if !n.runtime[0] {
		t.Error("stalled camera should be reported as a transient runtime error")
	}
}

func TestCameraSource_StopWhenStopped(t *testing.T) {
	src := NewCameraSource(Front, NewMockCamera(nil, false), nil, nil)
	if err := src.Stop(); err != nil {
		t.Errorf("Stop() on stopped source error = %v", err)
	}
}

func TestCameraSource_InterruptionEnds(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.SetFPS(500)
	cam.Open()
	defer cam.Close()
	cam.Stall(InterruptAfterFailures)

	n := &recordingNotifier{}
	src := NewCameraSource(Rear, cam, n, nil)
	if err := src.Start(func(f *Frame) { f.Close() }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ended, _ := n.counts(); ended == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	interrupted, ended, runtimeErrs := n.counts()
	if interrupted != 1 || ended != 1 {
		t.Errorf("interruptions = %d, ends = %d, want 1 and 1", interrupted, ended)
	}
	if runtimeErrs != 0 {
		t.Errorf("runtime errors = %d, want 0", runtimeErrs)
	}
}
