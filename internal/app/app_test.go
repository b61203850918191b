package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clubattend/internal/attendance"
	"clubattend/internal/config"
	"clubattend/internal/metrics"
	"clubattend/internal/payload"
)

const rosterJSON = `{
	"team": [{"id": "M1", "name": "Ada Lovelace", "email": "ada@example.org"}],
	"events": {"E1": [
		{"id": "P7", "name": "Grace", "email": "grace@example.org", "type": "participant"},
		{"id": "V1", "name": "Linus", "email": "linus@example.org", "type": "volunteer"}
	]}
}`

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func memoryConfig(roster string) config.App {
	return config.App{
		LedgerBackend: "memory",
		LockBackend:   "memory",
		QueueBackend:  "memory",
		RosterFile:    roster,
		MailSkip:      true,
		PollInterval:  time.Minute,
		Location:      time.UTC,
		WatchEvents:   []string{"E1"},
	}
}

func TestSeedDirectory(t *testing.T) {
	dir := attendance.NewMemoryDirectory()
	n, err := SeedDirectory(dir, writeRoster(t, rosterJSON))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	a, err := dir.EventAttendee(context.Background(), "E1", payload.Volunteer, "V1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Linus", a.Name)
}

func TestSeedDirectory_Errors(t *testing.T) {
	dir := attendance.NewMemoryDirectory()

	_, err := SeedDirectory(dir, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = SeedDirectory(dir, writeRoster(t, "{"))
	assert.Error(t, err)

	_, err = SeedDirectory(dir, writeRoster(t, `{"events": {"E1": [{"id": "X", "name": "X", "type": "guest"}]}}`))
	assert.ErrorContains(t, err, "invalid type")
}

func TestSetup_MemoryBackends(t *testing.T) {
	cfg := memoryConfig(writeRoster(t, rosterJSON))
	inf, err := Setup(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer inf.Close()

	assert.True(t, inf.InProcess(cfg))
	assert.Nil(t, inf.DB)
	assert.Nil(t, inf.Redis)
	assert.IsType(t, &attendance.MemoryLedger{}, inf.Ledger)
	assert.IsType(t, &attendance.KeyedMutex{}, inf.Locker)

	who, err := attendance.NewResolver(inf.Directory).Resolve(context.Background(), payload.Team{MemberID: "M1"})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", who.Name)
	assert.NotNil(t, inf.Dispatcher(cfg, zap.NewNop()))
}

func TestPollers_ExportGauges(t *testing.T) {
	ledger := attendance.NewMemoryLedger()
	engine := attendance.NewEngine(ledger, nil)
	ada := attendance.Attendee{ID: "M1", Name: "Ada Lovelace"}
	grace := attendance.Attendee{ID: "P7", Name: "Grace", Type: payload.Participant}

	_, err := engine.Toggle(context.Background(), ada, attendance.DailyScope(time.Now().UTC()), attendance.MethodQR, "", time.Now())
	require.NoError(t, err)
	_, err = engine.Toggle(context.Background(), grace, attendance.EventScope("E1", payload.Participant), attendance.MethodQR, "", time.Now())
	require.NoError(t, err)

	pollers := Pollers(attendance.NewAggregator(ledger), memoryConfig(""), zap.NewNop())
	require.Len(t, pollers, 2)

	for _, p := range pollers {
		f := p.Filter()
		sum, err := p.Aggregator.Summarize(context.Background(), f)
		p.Handle(f, sum, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Present.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Present.WithLabelValues("event:E1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("event:E1")))
}
