// Package repository provides PostgreSQL-backed persistence for feature flags
// and API keys. Flag mutations are announced over LISTEN/NOTIFY so evaluator
// caches can drop stale entries without waiting for their TTL.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/matt-riley/flagchain/internal/core"
)

const (
	defaultNotifyChannel = "flag_events"
	uniqueViolationCode  = "23505"

	EventTypeUpdated = "updated"
	EventTypeDeleted = "deleted"
)

var (
	ErrFlagNotFound   = errors.New("flag not found")
	ErrDuplicateKey   = errors.New("flag key already exists")
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// APIKey is the non-secret metadata of a stored API key.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// PostgresRepository implements flag and API key persistence backed by a
// pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "flag_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel name for flag change notifications.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

const flagColumns = `
	id, key, name, description, status, default_variation, variations,
	expiration_date, scheduled_enable_date, scheduled_disable_date,
	window_start_time, window_end_time, window_days, time_zone,
	targeting_rules, percentage_enabled, tenant_percentage_enabled,
	enabled_users, disabled_users, enabled_tenants, disabled_tenants,
	created_by, updated_by, created_at, updated_at`

// GetFlag loads a flag by key. A missing key yields [ErrFlagNotFound].
func (r *PostgresRepository) GetFlag(ctx context.Context, key string) (core.FeatureFlag, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM feature_flags WHERE key = $1`, key)

	flag, err := scanFlag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.FeatureFlag{}, fmt.Errorf("get flag %q: %w", key, ErrFlagNotFound)
		}
		return core.FeatureFlag{}, fmt.Errorf("get flag %q: %w", key, err)
	}

	return flag, nil
}

// ListFlags returns every flag ordered by key.
func (r *PostgresRepository) ListFlags(ctx context.Context) ([]core.FeatureFlag, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+flagColumns+` FROM feature_flags ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	flags := make([]core.FeatureFlag, 0)
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}

	return flags, nil
}

// CreateFlag inserts a new flag and returns it with server-generated
// timestamps. An existing key yields [ErrDuplicateKey].
func (r *PostgresRepository) CreateFlag(ctx context.Context, flag core.FeatureFlag) (core.FeatureFlag, error) {
	record, err := newFlagRecord(flag)
	if err != nil {
		return core.FeatureFlag{}, err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO feature_flags (`+flagColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, NOW(), NOW())
		RETURNING created_at, updated_at
	`, record.args()...).Scan(&flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.FeatureFlag{}, fmt.Errorf("create flag %q: %w", flag.Key, ErrDuplicateKey)
		}
		return core.FeatureFlag{}, fmt.Errorf("create flag %q: %w", flag.Key, err)
	}

	flag.ID = record.ID
	return flag, nil
}

// UpsertFlag inserts or replaces the flag with the same key and notifies
// listeners within the same transaction. The stored ID and created_at of an
// existing row are preserved.
func (r *PostgresRepository) UpsertFlag(ctx context.Context, flag core.FeatureFlag) (core.FeatureFlag, error) {
	record, err := newFlagRecord(flag)
	if err != nil {
		return core.FeatureFlag{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return core.FeatureFlag{}, fmt.Errorf("begin upsert flag tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		INSERT INTO feature_flags (`+flagColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			default_variation = EXCLUDED.default_variation,
			variations = EXCLUDED.variations,
			expiration_date = EXCLUDED.expiration_date,
			scheduled_enable_date = EXCLUDED.scheduled_enable_date,
			scheduled_disable_date = EXCLUDED.scheduled_disable_date,
			window_start_time = EXCLUDED.window_start_time,
			window_end_time = EXCLUDED.window_end_time,
			window_days = EXCLUDED.window_days,
			time_zone = EXCLUDED.time_zone,
			targeting_rules = EXCLUDED.targeting_rules,
			percentage_enabled = EXCLUDED.percentage_enabled,
			tenant_percentage_enabled = EXCLUDED.tenant_percentage_enabled,
			enabled_users = EXCLUDED.enabled_users,
			disabled_users = EXCLUDED.disabled_users,
			enabled_tenants = EXCLUDED.enabled_tenants,
			disabled_tenants = EXCLUDED.disabled_tenants,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING id, created_by, created_at, updated_at
	`, record.args()...).Scan(&flag.ID, &flag.CreatedBy, &flag.CreatedAt, &flag.UpdatedAt); err != nil {
		return core.FeatureFlag{}, fmt.Errorf("upsert flag %q: %w", flag.Key, err)
	}

	if err := r.notify(ctx, tx, flag.Key, EventTypeUpdated); err != nil {
		return core.FeatureFlag{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return core.FeatureFlag{}, fmt.Errorf("commit upsert flag tx: %w", err)
	}

	return flag, nil
}

// DeleteFlag removes a flag by key and notifies listeners.
func (r *PostgresRepository) DeleteFlag(ctx context.Context, key string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete flag tx: %w", err)
	}
	defer tx.Rollback(ctx)

	commandTag, err := tx.Exec(ctx, `DELETE FROM feature_flags WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete flag %q: %w", key, err)
	}
	if err := deleteFlagNoRows(commandTag); err != nil {
		return fmt.Errorf("delete flag %q: %w", key, err)
	}

	if err := r.notify(ctx, tx, key, EventTypeDeleted); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete flag tx: %w", err)
	}

	return nil
}

// ValidateAPIKey returns the stored hash for a non-revoked key ID.
// Callers should do the hash comparison outside this package.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, error) {
	var keyHash string
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("validate api key: %w", ErrAPIKeyNotFound)
		}
		return "", fmt.Errorf("validate api key: %w", err)
	}

	return keyHash, nil
}

// CreateAPIKey generates a new API key, storing a bcrypt hash of the secret.
// The raw secret is returned exactly once; it cannot be retrieved later.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, name string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "api-key-" + keyID[:8]
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash)
		VALUES ($1, $2, $3)
	`, keyID, name, string(hash))
	if err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}

	return keyID, secret, nil
}

// ListAPIKeys returns metadata for every API key, revoked ones included.
func (r *PostgresRepository) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at, revoked_at
		FROM api_keys
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.Name, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey marks a key as revoked. Revoking an unknown or already revoked
// key yields [ErrAPIKeyNotFound].
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("revoke api key: %w", ErrAPIKeyNotFound)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// SubscribeFlagInvalidation returns a channel that receives the key of every
// flag changed through this database. The channel is closed once ctx ends.
func (r *PostgresRepository) SubscribeFlagInvalidation(ctx context.Context) (<-chan string, error) {
	invalidations := make(chan string, 64)

	go r.runFlagInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runFlagInvalidationListener(ctx context.Context, invalidations chan<- string) {
	defer close(invalidations)

	for {
		err := r.listenForFlagInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForFlagInvalidation(ctx context.Context, invalidations chan<- string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for flag notification: %w", err)
		}

		key, err := parseNotifyPayload(notification.Payload)
		if err != nil {
			continue
		}

		select {
		case invalidations <- key:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *PostgresRepository) notify(ctx context.Context, tx pgx.Tx, key, eventType string) error {
	payload, err := marshalNotifyPayload(key, eventType)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, payload); err != nil {
		return fmt.Errorf("notify flag %s: %w", eventType, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func deleteFlagNoRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type notifyPayload struct {
	FlagKey   string `json:"flag_key"`
	EventType string `json:"event_type"`
}

func marshalNotifyPayload(key, eventType string) (string, error) {
	serialized, err := json.Marshal(notifyPayload{FlagKey: key, EventType: eventType})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}

func parseNotifyPayload(payload string) (string, error) {
	var message notifyPayload
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return "", fmt.Errorf("decode notify payload: %w", err)
	}
	if strings.TrimSpace(message.FlagKey) == "" {
		return "", errors.New("notify payload has no flag key")
	}
	return message.FlagKey, nil
}
