package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubattend/internal/attendance"
	"clubattend/internal/auth"
	"clubattend/internal/notify"
	"clubattend/internal/payload"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (r *recordingTransport) Send(_ context.Context, m notify.Message) error {
	if r.fail {
		return errors.New("endpoint down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

type testEnv struct {
	router    *gin.Engine
	ledger    *attendance.MemoryLedger
	transport *recordingTransport
	now       time.Time
	token     string
	refresh   string
}

const adminKey = "bootstrap-key"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		ledger:    attendance.NewMemoryLedger(),
		transport: &recordingTransport{},
		now:       time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	dir := attendance.NewMemoryDirectory()
	dir.AddTeamMember(attendance.Attendee{ID: "M1", Name: "Ada Lovelace", Email: "ada@example.org"})
	dir.AddEventAttendee("E1", attendance.Attendee{ID: "P7", Name: "Grace", Email: "grace@example.org", Type: payload.Participant})

	dispatcher := notify.NewDispatcher(env.transport, notify.Options{FromEmail: "club@example.org"}, nil)
	svc := attendance.NewService(attendance.NewResolver(dir), attendance.NewEngine(env.ledger, nil), nil, attendance.WithClock(clock))
	h := New(Deps{
		Service:    svc,
		Ledger:     env.ledger,
		Aggregator: attendance.NewAggregator(env.ledger),
		Dispatcher: dispatcher,
		Batches:    notify.NewBatches(context.Background(), dispatcher, nil),
		Devices:    auth.NewMemoryDevices(),
		Tokens:     TokenConfig{Issuer: "test", SigningKey: "secret", AccessTTL: time.Hour, RefreshTTL: time.Hour},
		Now:        clock,
	})
	env.router = NewRouter(h, RouterConfig{
		AdminAPIKey:     adminKey,
		RateLimitPerMin: 1000,
		Health:          map[string]HealthCheck{"db": func(context.Context) bool { return true }},
	})

	w := env.do(t, http.MethodPost, "/v1/devices/register", map[string]string{"device_id": "gate-1"}, map[string]string{"X-Admin-Key": adminKey})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tokens := decode[tokenResponse](t, w)
	env.token = tokens.AccessToken
	env.refresh = tokens.RefreshToken
	return env
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) authed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + e.token})
}

func (e *testEnv) batchDone(t *testing.T, id string) bool {
	w := e.authed(t, http.MethodGet, "/v1/notifications/batches/"+id, nil)
	var st notify.BatchStatus
	return w.Code == http.StatusOK && json.Unmarshal(w.Body.Bytes(), &st) == nil && st.Done
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRoutes_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "ATTENDANCE:M1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/devices/register", map[string]string{"device_id": "gate-2"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": env.refresh}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := decode[tokenResponse](t, w)
	require.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, env.refresh, rotated.RefreshToken)

	env.token = rotated.AccessToken
	w = env.authed(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "ATTENDANCE:M1"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a refresh token is single use
	w = env.do(t, http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": env.refresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": rotated.AccessToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/devices/refresh", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestScanFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.authed(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "ATTENDANCE:M1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	in := decode[attendance.ScanResult](t, w)
	assert.Equal(t, attendance.ActionOpened, in.Action)
	assert.Equal(t, "gate-1", in.Session.DeviceID)

	w = env.authed(t, http.MethodGet, "/v1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[attendance.Summary](t, w)
	assert.Equal(t, 1, sum.CurrentlyPresent)
	assert.Nil(t, sum.AvgDurationMinutes)

	env.now = env.now.Add(90 * time.Minute)
	w = env.authed(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "ATTENDANCE:M1", "method": "nfc"})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[attendance.ScanResult](t, w)
	assert.Equal(t, attendance.ActionClosed, out.Action)
	assert.Equal(t, "Ada Lovelace checked out after 1h 30m", out.Message)

	w = env.authed(t, http.MethodGet, "/v1/summary?date=2026-03-14", nil)
	sum = decode[attendance.Summary](t, w)
	assert.Equal(t, 0, sum.CurrentlyPresent)
	require.NotNil(t, sum.AvgDurationMinutes)
	assert.Equal(t, 90.0, *sum.AvgDurationMinutes)

	w = env.authed(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []attendance.Session `json:"sessions"`
	}](t, w)
	require.Len(t, list.Sessions, 1)

	w = env.authed(t, http.MethodPost, "/v1/sessions/"+list.Sessions[0].ID+"/notify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, env.transport.sent, 1)
	assert.Contains(t, env.transport.sent[0].Body, "Time attended: 1h 30m")
}

func TestScan_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"invalid code", map[string]string{"payload": "hello"}, http.StatusBadRequest, "INVALID_CODE"},
		{"scope mismatch", map[string]string{"payload": "ATTENDANCE:M1", "event_id": "E1"}, http.StatusUnprocessableEntity, "SCOPE_MISMATCH"},
		{"not found", map[string]string{"payload": "ATTENDANCE:ZZ"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad method", map[string]string{"payload": "ATTENDANCE:M1", "method": "barcode"}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.authed(t, http.MethodPost, "/v1/scans", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[map[string]string](t, w)["code"])
		})
	}

	for name, body := range map[string]map[string]string{
		"empty payload":   {"payload": ""},
		"missing payload": {},
	} {
		t.Run(name, func(t *testing.T) {
			w := env.authed(t, http.MethodPost, "/v1/scans", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			got := decode[map[string]string](t, w)
			assert.Equal(t, "INVALID_CODE", got["code"])
			assert.Equal(t, "Invalid attendance code", got["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode[map[string]string](t, w)["code"])
}

func TestEventScanAndSummary(t *testing.T) {
	env := newTestEnv(t)

	w := env.authed(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "EVENT_ATTENDANCE:E1:participant:P7", "event_id": "E1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.authed(t, http.MethodGet, "/v1/summary?event_id=E1&attendee_type=participant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[attendance.Summary](t, w).CurrentlyPresent)

	w = env.authed(t, http.MethodGet, "/v1/summary?event_id=E1&date=2026-03-14", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.authed(t, http.MethodGet, "/v1/codes?event_id=E1&attendee_type=volunteer&attendee_id=V1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EVENT_ATTENDANCE:E1:volunteer:V1", decode[map[string]string](t, w)["payload"])

	w = env.authed(t, http.MethodGet, "/v1/codes?member_id=M1&admin=true", nil)
	assert.Equal(t, "ADMIN:M1", decode[map[string]string](t, w)["payload"])

	w = env.authed(t, http.MethodGet, "/v1/codes?event_id=E1&attendee_type=guest&attendee_id=V1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatches(t *testing.T) {
	env := newTestEnv(t)

	w := env.authed(t, http.MethodPost, "/v1/notifications/batches", map[string]any{
		"recipients": []map[string]any{
			{"name": "Ada", "email": "ada@example.org", "kind": "check_in"},
			{"name": "Grace", "email": "grace@example.org", "kind": "check_out", "duration_minutes": 45},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
	}](t, w)
	assert.Equal(t, 2, started.Total)

	require.Eventually(t, func() bool { return env.batchDone(t, started.BatchID) }, time.Second, 5*time.Millisecond)

	w = env.authed(t, http.MethodGet, "/v1/notifications/batches/"+started.BatchID, nil)
	st := decode[notify.BatchStatus](t, w)
	assert.Equal(t, []string{"Ada", "Grace"}, st.Succeeded)
	assert.Equal(t, 2, st.Sent)

	w = env.authed(t, http.MethodGet, "/v1/notifications/batches/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.authed(t, http.MethodDelete, "/v1/notifications/batches/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.authed(t, http.MethodPost, "/v1/notifications/batches", map[string]any{
		"recipients": []map[string]any{{"name": "Ada", "email": "ada@example.org", "kind": "check_out"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "check-out without duration")
}

func TestSendPasses(t *testing.T) {
	env := newTestEnv(t)

	w := env.authed(t, http.MethodPost, "/v1/passes", map[string]string{"event_id": "E1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[map[string]any](t, w)["batch_id"].(string)

	require.Eventually(t, func() bool { return env.batchDone(t, id) }, time.Second, 5*time.Millisecond)

	env.transport.mu.Lock()
	defer env.transport.mu.Unlock()
	require.Len(t, env.transport.sent, 1)
	assert.Contains(t, env.transport.sent[0].Body, "EVENT_ATTENDANCE:E1:participant:P7")

	w = env.authed(t, http.MethodPost, "/v1/passes", map[string]string{"event_id": "E9"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestResend_TransportFailure(t *testing.T) {
	env := newTestEnv(t)
	w := env.authed(t, http.MethodPost, "/v1/scans", map[string]string{"payload": "ATTENDANCE:M1"})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[attendance.ScanResult](t, w).Session.ID

	env.transport.fail = true
	w = env.authed(t, http.MethodPost, "/v1/sessions/"+id+"/notify", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.authed(t, http.MethodPost, "/v1/sessions/missing/notify", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
