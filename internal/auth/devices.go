package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRefreshTokenInvalid is returned when a refresh token is unknown, revoked,
// expired or issued to another device.
var ErrRefreshTokenInvalid = errors.New("refresh token invalid or revoked")

// DeviceStore records scanning devices and the refresh tokens issued to them.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	// RotateRefreshToken revokes oldToken and stores newToken in its place.
	// oldToken must be live and belong to deviceID.
	RotateRefreshToken(ctx context.Context, deviceID, oldToken, newToken string, expiresAt time.Time) error
}

// PostgresDevices persists devices in Postgres.
type PostgresDevices struct {
	db *sql.DB
}

// NewPostgresDevices creates a device store over db.
func NewPostgresDevices(db *sql.DB) *PostgresDevices {
	return &PostgresDevices{db: db}
}

// UpsertDevice ensures a device record exists.
func (r *PostgresDevices) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *PostgresDevices) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RotateRefreshToken revokes oldToken and stores newToken in one transaction,
// so a refresh token can be used at most once.
func (r *PostgresDevices) RotateRefreshToken(ctx context.Context, deviceID, oldToken, newToken string, expiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token = $1 AND device_id = $2 AND NOT revoked AND expires_at > NOW()
	`, oldToken, deviceID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRefreshTokenInvalid
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, newToken, expiresAt); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return tx.Commit()
}

type storedToken struct {
	deviceID  string
	expiresAt time.Time
	revoked   bool
}

// MemoryDevices keeps devices in process, for the memory backend.
type MemoryDevices struct {
	mu      sync.Mutex
	devices map[string]time.Time
	tokens  map[string]storedToken
	now     func() time.Time
}

// NewMemoryDevices creates an empty store.
func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{
		devices: make(map[string]time.Time),
		tokens:  make(map[string]storedToken),
		now:     time.Now,
	}
}

func (m *MemoryDevices) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = m.now().UTC()
	}
	return nil
}

func (m *MemoryDevices) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = storedToken{deviceID: deviceID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryDevices) RotateRefreshToken(ctx context.Context, deviceID, oldToken, newToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldToken]
	if !ok || old.revoked || old.deviceID != deviceID || !old.expiresAt.After(m.now()) {
		return ErrRefreshTokenInvalid
	}
	old.revoked = true
	m.tokens[oldToken] = old
	m.tokens[newToken] = storedToken{deviceID: deviceID, expiresAt: expiresAt}
	return nil
}
