package detector

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/duocam/internal/capture"
)

// FaceFinder locates faces in an image, returning pixel rectangles with a
// top-left origin.
type FaceFinder interface {
	Faces(img *gocv.Mat) []image.Rectangle
	Close() error
}

// CascadeFaceFinder finds faces with an OpenCV Haar cascade. It is not safe
// for concurrent use.
type CascadeFaceFinder struct {
	classifier gocv.CascadeClassifier
}

// NewCascadeFaceFinder loads the cascade XML at path.
func NewCascadeFaceFinder(path string) (*CascadeFaceFinder, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("load face cascade %s", path)
	}
	return &CascadeFaceFinder{classifier: classifier}, nil
}

// Faces runs the cascade on img.
func (f *CascadeFaceFinder) Faces(img *gocv.Mat) []image.Rectangle {
	return f.classifier.DetectMultiScale(*img)
}

// Close releases the classifier.
func (f *CascadeFaceFinder) Close() error {
	return f.classifier.Close()
}

// FaceDetector reports face bounding regions through a callback. All
// detection runs on its Executor, one frame at a time.
type FaceDetector struct {
	finder FaceFinder
	exec   *Executor
}

// NewFaceDetector creates a FaceDetector running finder on a dedicated
// executor.
func NewFaceDetector(finder FaceFinder) *FaceDetector {
	return &FaceDetector{
		finder: finder,
		exec:   NewExecutor(1),
	}
}

// DetectAsync queues frame for detection. cb runs on the executor goroutine,
// or on the caller's goroutine when the detector cannot take the frame.
func (d *FaceDetector) DetectAsync(frame *capture.Frame, cb Callback) {
	ok := d.exec.Submit(func() {
		defer frame.Close()
		cb(d.detect(frame), nil)
	})
	if !ok {
		frame.Close()
		cb(Detection{}, ErrDetectorBusy)
	}
}

func (d *FaceDetector) detect(frame *capture.Frame) Detection {
	width, height := frame.Size()
	if width == 0 || height == 0 {
		return Detection{}
	}

	var det Detection
	for _, rect := range d.finder.Faces(frame.Image) {
		if r, ok := faceRegion(rect, width, height); ok {
			det.Regions = append(det.Regions, r)
		}
	}
	return det
}

// faceRegion converts a pixel rectangle into a detector-normalized region.
// The cascade gives no score, so detected faces carry full confidence.
func faceRegion(rect image.Rectangle, width, height int) (Region, bool) {
	rect = rect.Canon().Intersect(image.Rect(0, 0, width, height))
	if rect.Empty() {
		return Region{}, false
	}

	w, h := float64(width), float64(height)
	return Region{
		Min: LandmarkPoint{X: float64(rect.Min.X) / w, Y: 1 - float64(rect.Max.Y)/h, Confidence: 1},
		Max: LandmarkPoint{X: float64(rect.Max.X) / w, Y: 1 - float64(rect.Min.Y)/h, Confidence: 1},
	}, true
}

// Close drains the executor and releases the finder.
func (d *FaceDetector) Close() error {
	d.exec.Close()
	return d.finder.Close()
}
