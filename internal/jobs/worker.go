package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker represents a background job worker
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	wakeChan     chan struct{}
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		wakeChan:     make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop. It blocks until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("worker started with poll interval: %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("worker stopped: stop signal received")
			return
		case <-ticker.C:
			w.poll(ctx)
		case <-w.wakeChan:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("error processing jobs: %v", err)
	}
}

// Wake asks the worker to poll now instead of waiting for the next tick.
// It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wakeChan <- struct{}{}:
	default:
	}
}

// Stop gracefully stops the worker and waits for the current poll to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	log.Println("worker shutdown complete")
}
