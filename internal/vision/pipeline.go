// Package vision implements descriptor extraction on ONNX Runtime: a face
// detector followed by a face recognition network.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	_ "golang.org/x/image/bmp"

	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

// MultiFacePolicy decides what happens when an image holds several faces.
type MultiFacePolicy string

const (
	// PolicyPrimary keeps the most confident face.
	PolicyPrimary MultiFacePolicy = "primary"
	// PolicyReject refuses the image with models.ErrMultipleFaces.
	PolicyReject MultiFacePolicy = "reject"
)

// Pipeline extracts one descriptor per image. It is not safe for concurrent
// use; see Pool.
type Pipeline struct {
	detector *Detector
	embedder *Embedder
	policy   MultiFacePolicy
}

// NewPipeline loads the detection and embedding models named in cfg.
func NewPipeline(cfg config.VisionConfig) (*Pipeline, error) {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectionModel)
	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbeddingModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
	emb, err := NewEmbedder(EmbedderConfig{
		ModelPath:  embPath,
		InputName:  cfg.EmbeddingInput,
		OutputName: cfg.EmbeddingOutput,
		InputSize:  cfg.EmbeddingSize,
		Dim:        cfg.EmbeddingDim,
	}, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Pipeline{detector: det, embedder: emb, policy: MultiFacePolicy(cfg.MultiFacePolicy)}, nil
}

// Extract decodes the image, picks a face according to the policy and
// returns its descriptor. models.ErrNoFace is returned when nothing is found.
func (p *Pipeline) Extract(ctx context.Context, data []byte) (models.Descriptor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUndecodable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	start := time.Now()
	dets, err := p.detector.Detect(toCHW(img, p.detector.size, 127.5, 128), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.ExtractionDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	face, err := selectFace(dets, p.policy)
	if err != nil {
		return nil, err
	}
	faceImg := crop(img, face.BBox)
	if faceImg == nil {
		return nil, models.ErrNoFace
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	desc, err := p.embedder.Embed(toCHW(faceImg, p.embedder.InputSize(), 127.5, 127.5))
	if err != nil {
		return nil, err
	}
	observability.ExtractionDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return models.Descriptor(desc), nil
}

// selectFace applies the multi-face policy. Under PolicyPrimary the most
// confident face wins and equal confidence prefers the larger box.
func selectFace(dets []Detection, policy MultiFacePolicy) (Detection, error) {
	switch {
	case len(dets) == 0:
		return Detection{}, models.ErrNoFace
	case len(dets) > 1 && policy == PolicyReject:
		return Detection{}, fmt.Errorf("%w: %d faces", models.ErrMultipleFaces, len(dets))
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence || (d.Confidence == best.Confidence && d.area() > best.area()) {
			best = d
		}
	}
	return best, nil
}

func (p *Pipeline) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
	if p.embedder != nil {
		p.embedder.Close()
	}
}

// InitRuntime loads the ONNX Runtime shared library. The returned func tears
// the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Warn("destroy onnx runtime", "error", err)
		}
	}, nil
}
