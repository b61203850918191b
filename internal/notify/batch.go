package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const batchRetention = time.Hour

// BatchStatus is a snapshot of a running or finished bulk send.
type BatchStatus struct {
	ID        string    `json:"id"`
	Sent      int       `json:"sent"`
	Total     int       `json:"total"`
	Done      bool      `json:"done"`
	Cancelled bool      `json:"cancelled"`
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Failures  []Failure `json:"failures"`
	StartedAt time.Time `json:"started_at"`
}

type batch struct {
	mu       sync.Mutex
	status   BatchStatus
	cancel   context.CancelFunc
	done     chan struct{}
	finished time.Time
}

// Batches runs bulk sends in the background so operators can watch progress
// and cancel them.
type Batches struct {
	parent     context.Context
	dispatcher *Dispatcher
	log        *zap.Logger

	mu      sync.Mutex
	batches map[string]*batch
}

// NewBatches creates a registry. Batches are cancelled when parent is done.
func NewBatches(parent context.Context, d *Dispatcher, log *zap.Logger) *Batches {
	if log == nil {
		log = zap.NewNop()
	}
	return &Batches{parent: parent, dispatcher: d, log: log, batches: make(map[string]*batch)}
}

// Start begins sending jobs and returns the batch id.
func (b *Batches) Start(jobs []Job) string {
	ctx, cancel := context.WithCancel(b.parent)
	bt := &batch{
		status: BatchStatus{
			ID:        uuid.NewString(),
			Total:     len(jobs),
			Succeeded: []string{},
			Failed:    []string{},
			Failures:  []Failure{},
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.pruneLocked()
	b.batches[bt.status.ID] = bt
	b.mu.Unlock()

	b.log.Info("bulk notification started", zap.String("batch", bt.status.ID), zap.Int("total", len(jobs)))
	go func() {
		defer close(bt.done)
		defer cancel()
		res := b.dispatcher.NotifyAll(ctx, jobs, func(p Progress) {
			bt.mu.Lock()
			bt.status.Sent = p.Sent
			if p.Err != nil {
				bt.status.Failed = append(bt.status.Failed, p.Name)
			} else {
				bt.status.Succeeded = append(bt.status.Succeeded, p.Name)
			}
			bt.mu.Unlock()
		})
		bt.mu.Lock()
		bt.status.Done = true
		bt.status.Cancelled = res.Cancelled
		bt.status.Succeeded = res.Succeeded
		bt.status.Failed = res.Failed
		bt.status.Failures = res.Failures
		bt.finished = time.Now()
		bt.mu.Unlock()
	}()
	return bt.status.ID
}

// Status returns a snapshot of the batch.
func (b *Batches) Status(id string) (BatchStatus, bool) {
	bt, ok := b.get(id)
	if !ok {
		return BatchStatus{}, false
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	s := bt.status
	s.Succeeded = append([]string(nil), s.Succeeded...)
	s.Failed = append([]string(nil), s.Failed...)
	s.Failures = append([]Failure(nil), s.Failures...)
	return s, true
}

// Cancel stops the batch before its next send. Already sent messages stay sent.
func (b *Batches) Cancel(id string) bool {
	bt, ok := b.get(id)
	if !ok {
		return false
	}
	bt.cancel()
	return true
}

// Done is closed when the batch stops.
func (b *Batches) Done(id string) <-chan struct{} {
	bt, ok := b.get(id)
	if !ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return bt.done
}

func (b *Batches) get(id string) (*batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.batches[id]
	return bt, ok
}

func (b *Batches) pruneLocked() {
	cutoff := time.Now().Add(-batchRetention)
	for id, bt := range b.batches {
		bt.mu.Lock()
		old := bt.status.Done && bt.finished.Before(cutoff)
		bt.mu.Unlock()
		if old {
			delete(b.batches, id)
		}
	}
}
