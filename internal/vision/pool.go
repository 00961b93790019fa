package vision

import (
	"context"
	"fmt"

	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/models"
)

type extractor interface {
	Extract(ctx context.Context, data []byte) (models.Descriptor, error)
	Close()
}

// Pool shares a fixed set of pipelines between concurrent callers. ONNX
// sessions hold their tensors, so each pipeline serves one call at a time.
type Pool struct {
	free chan extractor
	all  []extractor
}

// NewPool loads cfg.WorkerCount pipelines.
func NewPool(cfg config.VisionConfig) (*Pool, error) {
	n := max(cfg.WorkerCount, 1)
	workers := make([]extractor, 0, n)
	for i := 0; i < n; i++ {
		p, err := NewPipeline(cfg)
		if err != nil {
			for _, w := range workers {
				w.Close()
			}
			return nil, fmt.Errorf("pipeline %d: %w", i, err)
		}
		workers = append(workers, p)
	}
	return newPool(workers), nil
}

func newPool(workers []extractor) *Pool {
	p := &Pool{free: make(chan extractor, len(workers)), all: workers}
	for _, w := range workers {
		p.free <- w
	}
	return p
}

// Extract waits for an idle pipeline, honoring ctx, and runs it.
func (p *Pool) Extract(ctx context.Context, data []byte) (models.Descriptor, error) {
	var w extractor
	select {
	case w = <-p.free:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.free <- w }()
	return w.Extract(ctx, data)
}

func (p *Pool) Size() int { return len(p.all) }

// Close waits for every pipeline to be returned, including ones still
// finishing an extraction whose caller gave up, and releases each.
func (p *Pool) Close() {
	for range p.all {
		w := <-p.free
		w.Close()
	}
}
