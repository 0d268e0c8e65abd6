package dispatcher

import (
	"sync"
	"sync/atomic"

	"webhook-relay/internal/models"
)

// Task is one delivery waiting to be attempted.
type Task struct {
	Event    *models.Event
	Delivery *models.Delivery
}

// pipeline is the work queue and worker pool of one destination.
type pipeline struct {
	destinationID string
	queue         chan *Task
	workers       int
	busy          atomic.Int64

	// done is closed when the destination is removed.
	done chan struct{}
	once sync.Once
}

func newPipeline(destinationID string, queueSize, workers int) *pipeline {
	return &pipeline{
		destinationID: destinationID,
		queue:         make(chan *Task, queueSize),
		workers:       workers,
		done:          make(chan struct{}),
	}
}

func (p *pipeline) remove() {
	p.once.Do(func() { close(p.done) })
}

func (p *pipeline) removed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// offer enqueues task without blocking.
func (p *pipeline) offer(task *Task) bool {
	select {
	case p.queue <- task:
		return true
	default:
		return false
	}
}

// PipelineStats describes one destination pipeline.
type PipelineStats struct {
	DestinationID string `json:"destination_id"`
	Queued        int    `json:"queued"`
	Capacity      int    `json:"capacity"`
	Workers       int    `json:"workers"`
	Busy          int    `json:"busy"`
}

func (p *pipeline) stats() PipelineStats {
	return PipelineStats{
		DestinationID: p.destinationID,
		Queued:        len(p.queue),
		Capacity:      cap(p.queue),
		Workers:       p.workers,
		Busy:          int(p.busy.Load()),
	}
}
