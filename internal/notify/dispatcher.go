package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"clubattend/internal/metrics"
)

// DefaultSendDelay spaces bulk sends so the mail endpoint is not flooded and
// progress stays visible to the operator.
const DefaultSendDelay = 500 * time.Millisecond

// Transport delivers a composed message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// SendError is the per-recipient failure of a send.
type SendError struct {
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Options configures a Dispatcher.
type Options struct {
	FromEmail   string
	FromName    string
	SendDelay   time.Duration
	SendTimeout time.Duration
}

// Dispatcher sends notifications through a Transport.
type Dispatcher struct {
	transport Transport
	opts      Options
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher. A zero SendDelay disables throttling; a
// negative one selects DefaultSendDelay.
func NewDispatcher(t Transport, opts Options, log *zap.Logger) *Dispatcher {
	if opts.SendDelay < 0 {
		opts.SendDelay = DefaultSendDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{transport: t, opts: opts, log: log}
}

// Notify sends one job. Failures are returned as *SendError and never retried.
func (d *Dispatcher) Notify(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		metrics.Notifications.WithLabelValues(string(j.Kind), "invalid").Inc()
		return &SendError{Recipient: j.RecipientName, Err: err}
	}
	m := Compose(j)
	m.FromEmail = d.opts.FromEmail
	m.FromName = d.opts.FromName

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	if err := d.transport.Send(sendCtx, m); err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", d.opts.SendTimeout, err)
		}
		metrics.Notifications.WithLabelValues(string(j.Kind), "failed").Inc()
		d.log.Warn("notification failed",
			zap.String("recipient", j.RecipientName), zap.String("kind", string(j.Kind)), zap.Error(err))
		return &SendError{Recipient: j.RecipientName, Err: err}
	}
	metrics.Notifications.WithLabelValues(string(j.Kind), "sent").Inc()
	return nil
}

// Progress is reported after every recipient of a bulk send.
type Progress struct {
	Sent  int
	Total int
	// Name and Err describe the recipient just processed.
	Name string
	Err  error
}

// Failure is one failed recipient of a bulk send.
type Failure struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BulkResult partitions a bulk send by outcome.
type BulkResult struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Failures  []Failure `json:"failures"`
	Attempted int       `json:"attempted"`
	Total     int       `json:"total"`
	Cancelled bool      `json:"cancelled"`
}

// NotifyAll sends jobs one after another, waiting SendDelay between sends.
// A failure never stops the batch. Cancelling ctx stops before the next send;
// a send already in flight is allowed to finish.
func (d *Dispatcher) NotifyAll(ctx context.Context, jobs []Job, progress func(Progress)) BulkResult {
	res := BulkResult{
		Succeeded: []string{},
		Failed:    []string{},
		Failures:  []Failure{},
		Total:     len(jobs),
	}
	limit := rate.Inf
	if d.opts.SendDelay > 0 {
		limit = rate.Every(d.opts.SendDelay)
	}
	limiter := rate.NewLimiter(limit, 1)
	sendCtx := context.WithoutCancel(ctx)

	for i, j := range jobs {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			res.Cancelled = true
			break
		}

		err := d.Notify(sendCtx, j)
		res.Attempted++
		if err != nil {
			res.Failed = append(res.Failed, j.RecipientName)
			res.Failures = append(res.Failures, Failure{Name: j.RecipientName, Email: j.RecipientEmail, Reason: reason(err)})
		} else {
			res.Succeeded = append(res.Succeeded, j.RecipientName)
		}
		if progress != nil {
			progress(Progress{Sent: i + 1, Total: len(jobs), Name: j.RecipientName, Err: err})
		}
	}
	d.log.Info("bulk notification finished",
		zap.Int("total", res.Total), zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)), zap.Bool("cancelled", res.Cancelled))
	return res
}

func reason(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
