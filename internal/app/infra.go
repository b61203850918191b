// Package app wires configuration into the shared infrastructure used by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clubattend/internal/attendance"
	"clubattend/internal/auth"
	"clubattend/internal/config"
	"clubattend/internal/mailer"
	"clubattend/internal/metrics"
	"clubattend/internal/notify"
	"clubattend/internal/queue"
	"clubattend/internal/store"
)

type Infra struct {
	DB        *store.DB
	Redis     *store.Redis
	Ledger    attendance.Ledger
	Directory attendance.Directory
	Locker    attendance.Locker
	Queue     queue.Queue
	Devices   auth.DeviceStore
	Mailer    *mailer.Client
}

// NewLogger returns a production logger in production and a development
// logger otherwise.
func NewLogger(cfg config.App) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Setup connects the backends selected in cfg.
func Setup(ctx context.Context, cfg config.App, log *zap.Logger) (*Infra, error) {
	inf := &Infra{Mailer: mailer.New(cfg.MailEndpoint, cfg.MailSkip, log.Named("mailer"))}

	if cfg.LedgerBackend == "memory" {
		log.Warn("using in-memory ledger; sessions are lost on restart")
		inf.Ledger = attendance.NewMemoryLedger()
		dir := attendance.NewMemoryDirectory()
		if cfg.RosterFile != "" {
			n, err := SeedDirectory(dir, cfg.RosterFile)
			if err != nil {
				return nil, err
			}
			log.Info("roster loaded", zap.Int("people", n))
		}
		inf.Directory = dir
		inf.Devices = auth.NewMemoryDevices()
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := store.Migrate(ctx, db.Client); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database ready")
		inf.DB = db
		inf.Ledger = attendance.NewPostgresLedger(db.Client)
		inf.Directory = attendance.NewPostgresDirectory(db.Client)
		inf.Devices = auth.NewPostgresDevices(db.Client)
	}

	if cfg.LockBackend == "redis" || cfg.QueueBackend == "redis" {
		inf.Redis = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if !inf.Redis.Healthy(ctx) {
			log.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr))
		}
	}

	if cfg.LockBackend == "redis" {
		inf.Locker = attendance.NewRedisLocker(inf.Redis.Client, cfg.LockTTL, cfg.LockWait, log.Named("lock"))
	} else {
		inf.Locker = attendance.NewKeyedMutex()
	}

	if cfg.QueueBackend == "redis" {
		inf.Queue = queue.NewRedisQueue(inf.Redis.Client, cfg.QueueKey)
	} else {
		inf.Queue = queue.NewInMemory(256)
	}
	return inf, nil
}

// InProcess reports whether queue consumers and pollers must run inside the
// api process because the backends are not shared.
func (inf *Infra) InProcess(cfg config.App) bool {
	return cfg.QueueBackend == "memory" || cfg.LedgerBackend == "memory"
}

// Dispatcher builds the notification dispatcher from cfg.
func (inf *Infra) Dispatcher(cfg config.App, log *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(inf.Mailer, notify.Options{
		FromEmail:   cfg.MailFromEmail,
		FromName:    cfg.MailFromName,
		SendDelay:   cfg.SendDelay,
		SendTimeout: cfg.SendTimeout,
	}, log.Named("notify"))
}

// RunBackground consumes the notification queue and polls summaries of the
// watched scopes until ctx is done.
func (inf *Infra) RunBackground(ctx context.Context, cfg config.App, d *notify.Dispatcher, log *zap.Logger) {
	go func() {
		if err := notify.Consume(ctx, inf.Queue, d, log.Named("consumer")); err != nil && ctx.Err() == nil {
			log.Error("notification consumer stopped", zap.Error(err))
		}
	}()

	agg := attendance.NewAggregator(inf.Ledger)
	for _, p := range Pollers(agg, cfg, log) {
		go func(p *attendance.Poller) { _ = p.Run(ctx) }(p)
	}
}

// Pollers returns one poller for today's team attendance and one per watched
// event, each exporting presence gauges.
func Pollers(agg *attendance.Aggregator, cfg config.App, log *zap.Logger) []*attendance.Poller {
	handle := func(label string) func(attendance.Filter, attendance.Summary, error) {
		return func(f attendance.Filter, s attendance.Summary, err error) {
			if err != nil {
				log.Warn("summary poll failed", zap.String("scope", label), zap.Error(err))
				return
			}
			metrics.Present.WithLabelValues(label).Set(float64(s.CurrentlyPresent))
			metrics.Sessions.WithLabelValues(label).Set(float64(s.Total))
		}
	}

	pollers := []*attendance.Poller{{
		Aggregator: agg,
		Interval:   cfg.PollInterval,
		Filter: func() attendance.Filter {
			return attendance.Filter{Date: attendance.DailyScope(time.Now().In(cfg.Location)).Date}
		},
		Handle: handle("daily"),
	}}
	for _, eventID := range cfg.WatchEvents {
		eventID := eventID
		pollers = append(pollers, &attendance.Poller{
			Aggregator: agg,
			Interval:   cfg.PollInterval,
			Filter:     func() attendance.Filter { return attendance.Filter{EventID: eventID} },
			Handle:     handle("event:" + eventID),
		})
	}
	return pollers
}

// Close releases connections.
func (inf *Infra) Close() {
	if inf.DB != nil {
		_ = inf.DB.Close()
	}
	if inf.Redis != nil {
		_ = inf.Redis.Close()
	}
}
