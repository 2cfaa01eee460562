package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/duocam/internal/capture"
)

// DefaultPreviewFPS is the encode rate of each preview stream.
const DefaultPreviewFPS = 15

type previewSlot struct {
	limiter *rate.Limiter
	busy    atomic.Bool
	work    chan gocv.Mat
	jpeg    []byte
	seq     uint64
}

// Preview keeps the latest JPEG of each stream and serves it as MJPEG.
// Offer only copies the frame into a single-slot mailbox; one encoder
// goroutine per stream does the JPEG work. Frames offered while the encoder
// is busy or ahead of the rate limit are skipped.
type Preview struct {
	fps    float64
	encode func(gocv.Mat) ([]byte, error)

	mu    sync.RWMutex
	slots [capture.NumSources]previewSlot

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPreview creates a preview encoding at most fps frames per stream and
// starts its encoders. Close stops them.
func NewPreview(fps float64) *Preview {
	return newPreview(fps, encodeJPEG)
}

func newPreview(fps float64, encode func(gocv.Mat) ([]byte, error)) *Preview {
	if fps <= 0 {
		fps = DefaultPreviewFPS
	}
	p := &Preview{fps: fps, encode: encode, quit: make(chan struct{})}
	for _, src := range capture.Sources {
		slot := &p.slots[src]
		slot.limiter = rate.NewLimiter(rate.Limit(fps), 1)
		slot.work = make(chan gocv.Mat, 1)
		p.wg.Add(1)
		go p.run(slot)
	}
	return p
}

func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Offer hands a copy of frame to its stream's encoder when the stream is due
// for a new preview image. It never waits for encoding. The caller keeps
// ownership of frame.
func (p *Preview) Offer(frame *capture.Frame) {
	if frame == nil || !frame.Source.Valid() || frame.Image == nil || frame.Image.Empty() {
		return
	}
	select {
	case <-p.quit:
		return
	default:
	}

	slot := &p.slots[frame.Source]
	if slot.busy.Load() || !slot.limiter.Allow() {
		return
	}
	if !slot.busy.CompareAndSwap(false, true) {
		return
	}

	img := frame.Image.Clone()
	select {
	case slot.work <- img:
	default:
		img.Close()
		slot.busy.Store(false)
	}
}

func (p *Preview) run(slot *previewSlot) {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case img := <-slot.work:
			data, err := p.encode(img)
			img.Close()
			if err == nil {
				p.mu.Lock()
				slot.jpeg = data
				slot.seq++
				p.mu.Unlock()
			}
			slot.busy.Store(false)
		}
	}
}

// Close stops the encoders and drops any frame still waiting.
func (p *Preview) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for i := range p.slots {
			select {
			case img := <-p.slots[i].work:
				img.Close()
			default:
			}
		}
	})
}

// Latest returns the newest JPEG of src and its sequence number. The
// sequence is zero until a frame has been encoded.
func (p *Preview) Latest(src capture.Source) ([]byte, uint64) {
	if !src.Valid() {
		return nil, 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slots[src].jpeg, p.slots[src].seq
}

// ServeHTTP streams the preview of the {source} path value as MJPEG.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(time.Duration(float64(time.Second) / p.fps))
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpeg, seq := p.Latest(src)
		if seq == 0 || seq == sent {
			continue
		}
		sent = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
