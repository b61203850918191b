package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clubattend/internal/metrics"
	"clubattend/internal/notify"
	"clubattend/internal/payload"
)

// DefaultPublishTimeout bounds how long a scan waits to enqueue its
// confirmation after the ledger write.
const DefaultPublishTimeout = 2 * time.Second

// Publisher hands notification jobs to the dispatcher, usually via a queue.
type Publisher interface {
	Publish(ctx context.Context, j notify.Job) error
}

// ScanRequest is one scan from an operator's device. EventID is the event the
// scanner is operating in; empty means team daily attendance.
type ScanRequest struct {
	Payload  string
	Method   ScanMethod
	EventID  string
	DeviceID string
}

// ScanResult is what the operator sees after a successful scan.
type ScanResult struct {
	Action          Action  `json:"action"`
	Name            string  `json:"name"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Message         string  `json:"message"`
	AdminCard       bool    `json:"admin_card,omitempty"`
	Session         Session `json:"session"`
}

// Service runs the scan pipeline: decode, scope check, resolve, toggle,
// notify.
type Service struct {
	resolver  *Resolver
	engine    *Engine
	publisher Publisher
	pubWait   time.Duration
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone that decides which calendar day a team scan
// belongs to.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithPublishTimeout bounds each confirmation enqueue. Non-positive values
// keep DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pubWait = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService wires the scan pipeline. publisher may be nil to disable
// confirmations.
func NewService(resolver *Resolver, engine *Engine, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		engine:    engine,
		publisher: publisher,
		pubWait:   DefaultPublishTimeout,
		loc:       time.UTC,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan processes one scan. Errors wrap ErrInvalidCode, ErrScopeMismatch,
// ErrNotFound or ErrRecordFailed.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	res, err := s.scan(ctx, req)
	metrics.Scans.WithLabelValues(scanLabel(err)).Inc()
	return res, err
}

func (s *Service) scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if req.Method == "" {
		req.Method = MethodQR
	}
	p, err := payload.Decode(req.Payload)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}
	now := s.now()
	scope, err := s.scopeFor(p, req.EventID, now)
	if err != nil {
		return ScanResult{}, err
	}
	who, err := s.resolver.Resolve(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ScanResult{}, err
		}
		return ScanResult{}, fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}

	out, err := s.engine.Toggle(ctx, who, scope, req.Method, req.DeviceID, now)
	if err != nil {
		s.log.Error("toggle failed", zap.String("identity", who.ID), zap.String("scope", scope.Key()), zap.Error(err))
		return ScanResult{}, err
	}
	metrics.Toggles.WithLabelValues(string(scope.Kind), string(out.Action)).Inc()
	s.log.Info("attendance toggled",
		zap.String("identity", who.ID), zap.String("scope", scope.Key()),
		zap.String("action", string(out.Action)), zap.String("method", string(req.Method)))

	s.publish(ctx, JobFor(out.Session))

	res := ScanResult{
		Action:          out.Action,
		Name:            who.Name,
		DurationMinutes: out.Session.DurationMinutes,
		Session:         out.Session,
	}
	if t, ok := p.(payload.Team); ok {
		res.AdminCard = t.AdminCard
	}
	if out.Action == ActionClosed {
		res.Message = fmt.Sprintf("%s checked out after %s", who.Name, notify.FormatDuration(*out.Session.DurationMinutes))
	} else {
		res.Message = fmt.Sprintf("%s checked in", who.Name)
	}
	return res, nil
}

// scopeFor derives the session scope from the payload and checks it against
// the scanner's event context.
func (s *Service) scopeFor(p payload.Payload, eventID string, now time.Time) (Scope, error) {
	switch v := p.(type) {
	case payload.Team:
		if eventID != "" {
			return Scope{}, fmt.Errorf("%w: team badge scanned at event %s", ErrScopeMismatch, eventID)
		}
		return DailyScope(now.In(s.loc)), nil
	case payload.Event:
		if eventID == "" {
			return Scope{}, fmt.Errorf("%w: event pass scanned outside an event", ErrScopeMismatch)
		}
		if v.EventID != eventID {
			return Scope{}, fmt.Errorf("%w: pass is for event %s, scanner is at %s", ErrScopeMismatch, v.EventID, eventID)
		}
		return EventScope(v.EventID, v.Type), nil
	}
	return Scope{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidCode, p)
}

// publish never fails the scan: the ledger write is authoritative. The
// enqueue is bounded and survives the caller going away.
func (s *Service) publish(ctx context.Context, j notify.Job) {
	if s.publisher == nil || j.RecipientEmail == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubWait)
	defer cancel()
	if err := s.publisher.Publish(ctx, j); err != nil {
		s.log.Warn("enqueue notification failed", zap.String("recipient", j.RecipientName), zap.Error(err))
	}
}

// JobFor builds the confirmation for a session's latest transition.
func JobFor(sess Session) notify.Job {
	j := notify.Job{
		RecipientName:  sess.DisplayName,
		RecipientEmail: sess.ContactEmail,
		Kind:           notify.KindCheckIn,
		At:             sess.CheckIn,
		Context:        scopeContext(sess.Scope),
	}
	if !sess.Open() {
		j.Kind = notify.KindCheckOut
		j.At = *sess.CheckOut
		j.DurationMinutes = sess.DurationMinutes
	}
	return j
}

func scopeContext(sc Scope) string {
	if sc.Kind == ScopeEvent {
		return fmt.Sprintf("event %s, %s", sc.EventID, sc.AttendeeType)
	}
	return "team attendance " + sc.Date
}

// PassJobs builds attendance-pass notifications for the team roster, or for
// every attendee of eventID when it is set.
func (s *Service) PassJobs(ctx context.Context, eventID string) ([]notify.Job, error) {
	people, err := s.resolver.Roster(ctx, eventID)
	if err != nil {
		return nil, err
	}

	jobs := make([]notify.Job, 0, len(people))
	for _, a := range people {
		var code string
		if eventID == "" {
			code, err = payload.EncodeTeam(a.ID)
		} else {
			code, err = payload.EncodeEvent(eventID, a.Type, a.ID)
		}
		if err != nil {
			s.log.Warn("skip pass with unencodable id", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		j := notify.Job{
			RecipientName:  a.Name,
			RecipientEmail: a.Email,
			Kind:           notify.KindPass,
			Payload:        code,
			At:             s.now().UTC(),
		}
		if eventID != "" {
			j.Context = "event " + eventID
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func scanLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrScopeMismatch):
		return "scope_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "record_failed"
	}
}
