package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

func (d Detection) area() float32 {
	return (d.BBox[2] - d.BBox[0]) * (d.BBox[3] - d.BBox[1])
}

// Detector runs a RetinaFace (SCRFD det_10g) model at a fixed 640x640 input.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	landmarks []*ort.Tensor[float32]
	threshold float32
	size      int
}

const (
	detectorInputSize = 640
	anchorsPerCell    = 2
	nmsIoU            = 0.4
)

var detectorStrides = []int{8, 16, 32}

// det_10g output names per stride: score, bbox, landmark.
var detectorOutputs = map[int][3]string{
	8:  {"448", "451", "454"},
	16: {"471", "474", "477"},
	32: {"494", "497", "500"},
}

func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, size: detectorInputSize}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detectorInputSize, detectorInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var names []string
	var outputs []ort.Value
	for _, stride := range detectorStrides {
		n := int64(anchorCount(detectorInputSize, stride))
		spec := detectorOutputs[stride]
		for i, width := range []int64{1, 4, 10} {
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(n, width))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create output tensor %s: %w", spec[i], err)
			}
			switch i {
			case 0:
				d.scores = append(d.scores, t)
			case 1:
				d.boxes = append(d.boxes, t)
			default:
				d.landmarks = append(d.landmarks, t)
			}
			names = append(names, spec[i])
			outputs = append(outputs, t)
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{d.input},
		outputs,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

func anchorCount(size, stride int) int {
	fm := size / stride
	return fm * fm * anchorsPerCell
}

// Detect runs the detector on a CHW image already resized to 640x640 and
// returns detections scaled back to origW x origH, best first.
func (d *Detector) Detect(img []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), img)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var dets []Detection
	for i, stride := range detectorStrides {
		dets = append(dets, decodeStride(stride, d.size, origW, origH, d.threshold,
			d.scores[i].GetData(), d.boxes[i].GetData(), d.landmarks[i].GetData())...)
	}
	return nms(dets, nmsIoU), nil
}

// decodeStride turns one stride's anchor outputs into detections. Box and
// landmark outputs are offsets from the anchor center in stride units.
func decodeStride(stride, size, origW, origH int, threshold float32, scores, boxes, landmarks []float32) []Detection {
	var dets []Detection
	sx := float32(origW) / float32(size)
	sy := float32(origH) / float32(size)
	st := float32(stride)
	cells := size / stride

	idx := 0
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			for a := 0; a < anchorsPerCell; a++ {
				if idx >= len(scores) {
					return dets
				}
				if scores[idx] >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					b := boxes[idx*4 : idx*4+4]
					det := Detection{
						Confidence: scores[idx],
						BBox: [4]float32{
							clamp((ax-b[0]*st)*sx, 0, float32(origW)),
							clamp((ay-b[1]*st)*sy, 0, float32(origH)),
							clamp((ax+b[2]*st)*sx, 0, float32(origW)),
							clamp((ay+b[3]*st)*sy, 0, float32(origH)),
						},
					}
					for l := 0; l < 5; l++ {
						det.Landmarks[l][0] = (ax + landmarks[idx*10+l*2]*st) * sx
						det.Landmarks[l][1] = (ay + landmarks[idx*10+l*2+1]*st) * sy
					}
					dets = append(dets, det)
				}
				idx++
			}
		}
	}
	return dets
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.boxes, d.landmarks} {
		for _, t := range group {
			t.Destroy()
		}
	}
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, threshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
