package queue

import (
	"context"
	"fmt"
)

const (
	// PayoutQueue carries payout requests to the worker.
	PayoutQueue = "payouts"

	dlqPrefix = "dlq."
)

// Publisher publishes payout requests to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg PayoutMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg PayoutMessage) error

// Consumer consumes payout requests from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.payouts.
func DLQName(queue string) string {
	return fmt.Sprintf("%s%s", dlqPrefix, queue)
}

// WorkQueueNames returns all work queues declared by the topology.
func WorkQueueNames() []string {
	return []string{PayoutQueue}
}
