package queue

import (
	"context"
	"errors"

	"adinventory/internal/domain"
)

// ErrQueueFull is returned when the in-process buffer has no room left.
var ErrQueueFull = errors.New("ops queue is full")

// MemoryOpsQueue is an in-process queue used with the in-memory store and in tests.
// Its single consumer also produces requeues, so writes never block.
type MemoryOpsQueue struct {
	tasks chan domain.OpsTask
}

// NewMemoryOpsQueue creates a queue holding up to size tasks.
func NewMemoryOpsQueue(size int) *MemoryOpsQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryOpsQueue{tasks: make(chan domain.OpsTask, size)}
}

func (q *MemoryOpsQueue) Enqueue(ctx context.Context, task domain.OpsTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.push(task)
}

func (q *MemoryOpsQueue) push(task domain.OpsTask) error {
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryOpsQueue) Receive(ctx context.Context) (domain.OpsTask, domain.OpsAckFunc, error) {
	select {
	case task := <-q.tasks:
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.push(task)
		}
		return task, ack, nil
	case <-ctx.Done():
		return domain.OpsTask{}, nil, ctx.Err()
	}
}

// Len reports queued tasks.
func (q *MemoryOpsQueue) Len() int {
	return len(q.tasks)
}
