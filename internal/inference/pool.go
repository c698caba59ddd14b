package inference

import "context"

// WorkerPool bounds concurrent CPU-bound inference offload (embed_batch,
// ONNX OCR/describe) so it never competes unbounded with WebSocket I/O
// goroutines (spec §5: "long inference is offloaded to a blocking worker
// pool"). It is the same bounded-fan-out shape as vectorindex's errgroup
// download pool, generalized here to a persistent pool instead of a
// one-shot fan-out since inference work arrives continuously for the
// node's lifetime.
type WorkerPool struct {
	sem chan struct{}
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Submit runs fn once a slot is free, blocking until then or until ctx is
// cancelled.
func (p *WorkerPool) Submit(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
