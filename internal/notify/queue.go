package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"clubattend/internal/queue"
)

// MessageType tags notification jobs on the shared queue.
const MessageType = "notification"

// QueuePublisher hands jobs to the worker through a queue.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps q.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

// Publish enqueues j.
func (p *QueuePublisher) Publish(ctx context.Context, j Job) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// DecodeJob reads a job published by QueuePublisher.
func DecodeJob(msg queue.Message) (Job, error) {
	if msg.Type != MessageType {
		return Job{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var j Job
	if err := json.Unmarshal(msg.Body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}
