package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/model"
)

// PostgresConfig holds connection parameters for the notification store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres opens and pings a connection pool against cfg.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	var dsn string
	if cfg.Password != "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	} else {
		dsn = fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Database, cfg.SSLMode)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.logger.Info("closing database connection pool")
	p.pool.Close()
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ActiveConnections reports the pool's currently acquired connection count,
// for the health endpoint's database connection gauge.
func (p *Postgres) ActiveConnections() int32 {
	return p.pool.Stat().AcquiredConns()
}

const notificationColumns = `
	id, client_id, channel, recipient, subject, body, status, priority,
	retry_count, max_retries, next_retry_at, error_code, error_message,
	provider_message_id, idempotency_key, callback_url, metadata,
	created_at, updated_at, sent_at, expires_at`

const notificationColumnsQualified = `
	n.id, n.client_id, n.channel, n.recipient, n.subject, n.body, n.status, n.priority,
	n.retry_count, n.max_retries, n.next_retry_at, n.error_code, n.error_message,
	n.provider_message_id, n.idempotency_key, n.callback_url, n.metadata,
	n.created_at, n.updated_at, n.sent_at, n.expires_at`

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID, &n.ClientID, &n.Channel, &n.Recipient, &n.Subject, &n.Body, &n.Status, &n.Priority,
		&n.RetryCount, &n.MaxRetries, &n.NextRetryAt, &n.ErrorCode, &n.ErrorMessage,
		&n.ProviderMessageID, &n.IdempotencyKey, &n.CallbackURL, &n.Metadata,
		&n.CreatedAt, &n.UpdatedAt, &n.SentAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// InsertNotification persists n. The database-level partial unique index
// on idempotency_key is the correctness authority per spec §9; a
// constraint violation is translated to ErrDuplicateIdempotencyKey.
func (p *Postgres) InsertNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created_at, updated_at`

	err := p.pool.QueryRow(ctx, query,
		n.ID, n.ClientID, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.Priority,
		n.RetryCount, n.MaxRetries, n.NextRetryAt, n.ErrorCode, n.ErrorMessage,
		n.ProviderMessageID, n.IdempotencyKey, n.CallbackURL, n.Metadata,
		n.CreatedAt, n.UpdatedAt, n.SentAt, n.ExpiresAt,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "notifications_idempotency_key_key" {
			return ErrDuplicateIdempotencyKey
		}
		p.logger.Error("failed to insert notification", zap.Error(err), zap.String("notification_id", n.ID.String()))
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (p *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

func (p *Postgres) FindByIdempotencyKey(ctx context.Context, key string) (*model.Notification, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = $1`, key)
	n, err := scanNotification(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification by idempotency key: %w", err)
	}
	return n, nil
}

// UpdateStatus applies §4.1's update_status: when transitioning to SENT
// it also stamps sent_at.
func (p *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, errorCode, errorMessage string) error {
	query := `
		UPDATE notifications
		SET status = $1, error_code = NULLIF($2, ''), error_message = NULLIF($3, ''),
		    next_retry_at = CASE WHEN $1 IN ('SENT','DELIVERED','FAILED','EXPIRED') THEN NULL ELSE next_retry_at END,
		    sent_at = CASE WHEN $1 = 'SENT' THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $4`

	tag, err := p.pool.Exec(ctx, query, status, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetProviderMessageID(ctx context.Context, id uuid.UUID, pmid string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE notifications SET provider_message_id = $1, updated_at = NOW() WHERE id = $2`,
		pmid, id)
	if err != nil {
		return fmt.Errorf("set provider message id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleRetry atomically resets the row to PENDING with a new retry
// count and due time, per §4.1.
func (p *Postgres) ScheduleRetry(ctx context.Context, id uuid.UUID, newRetryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error {
	query := `
		UPDATE notifications
		SET status = 'PENDING', retry_count = $1, next_retry_at = $2,
		    error_code = NULLIF($3, ''), error_message = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $5`

	tag, err := p.pool.Exec(ctx, query, newRetryCount, nextRetryAt, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ForceRetry implements the admin forceRetry operation (spec §8 P5,
// SPEC_FULL §12): resets a terminal row back to PENDING regardless of
// retry_count, clearing the error fields.
func (p *Postgres) ForceRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = 'PENDING', retry_count = 0, next_retry_at = NULL,
		    error_code = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('FAILED','EXPIRED')`

	tag, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("force retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LeaseDueRetries implements the work-stealing lease described in §4.1:
// a CTE selects the due rows with FOR UPDATE SKIP LOCKED so concurrent
// sweepers never pick the same row, then marks them SENDING in the same
// statement.
func (p *Postgres) LeaseDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	query := `
		WITH due AS (
			SELECT id FROM notifications
			WHERE status = 'PENDING'
			  AND next_retry_at IS NOT NULL
			  AND next_retry_at <= $1
			  AND (expires_at IS NULL OR expires_at > $1)
			ORDER BY
				CASE priority WHEN 'HIGH' THEN 0 WHEN 'NORMAL' THEN 1 ELSE 2 END,
				next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notifications n
		SET status = 'SENDING', updated_at = NOW()
		FROM due
		WHERE n.id = due.id
		RETURNING ` + notificationColumnsQualified

	rows, err := p.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lease due retries: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ReclaimExpiredLeases resets rows stuck in SENDING past leaseTimeout
// back to PENDING, run once at startup per spec §5.
func (p *Postgres) ReclaimExpiredLeases(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', updated_at = NOW()
		WHERE status = 'SENDING' AND updated_at <= NOW() - make_interval(secs => $1)`,
		leaseTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExpireOverdue transitions PENDING/SENDING rows whose expires_at has
// passed to EXPIRED, returning the affected rows so the caller can fire
// webhooks (§4.7 step 4).
func (p *Postgres) ExpireOverdue(ctx context.Context, now time.Time) ([]*model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'EXPIRED', next_retry_at = NULL, error_code = 'EXPIRED', updated_at = NOW()
		WHERE status IN ('PENDING','SENDING') AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING ` + notificationColumns

	rows, err := p.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire overdue: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) List(ctx context.Context, filter Filter, offset, limit int) (Page, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ClientID != nil {
		where += " AND client_id = " + arg(*filter.ClientID)
	}
	if filter.Status != "" {
		where += " AND status = " + arg(filter.Status)
	}
	if filter.Channel != "" {
		where += " AND channel = " + arg(filter.Channel)
	}
	if filter.From != nil {
		where += " AND created_at >= " + arg(*filter.From)
	}
	if filter.To != nil {
		where += " AND created_at <= " + arg(*filter.To)
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications "+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count notifications: %w", err)
	}

	limitArg := arg(limit)
	offsetArg := arg(offset)
	query := "SELECT " + notificationColumns + " FROM notifications " + where +
		" ORDER BY created_at DESC LIMIT " + limitArg + " OFFSET " + offsetArg

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items, err := collectNotifications(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total}, nil
}

func (p *Postgres) FindClientByAPIKeyHash(ctx context.Context, hash string) (*model.ApiClient, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, active, rate_limit, allowed_channels, created_at, last_used_at
		FROM api_clients WHERE api_key_hash = $1`, hash)

	var c model.ApiClient
	var allowed []string
	err := row.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Active, &c.RateLimit, &allowed, &c.CreatedAt, &c.LastUsedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	for _, a := range allowed {
		c.AllowedChannels = append(c.AllowedChannels, model.Channel(a))
	}
	return &c, nil
}

func (p *Postgres) TouchClientLastUsed(ctx context.Context, clientID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("touch client last used: %w", err)
	}
	return nil
}

func (p *Postgres) FindActiveTemplate(ctx context.Context, code string, channel model.Channel) (*model.MessageTemplate, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, code, name, channel, subject_template, body_template, variables, active
		FROM message_templates WHERE code = $1 AND channel = $2 AND active = true`, code, channel)

	var t model.MessageTemplate
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Channel, &t.SubjectTemplate, &t.BodyTemplate, &t.Variables, &t.Active)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active template: %w", err)
	}
	return &t, nil
}

func (p *Postgres) FindChannelConfig(ctx context.Context, channel model.Channel) (*model.ChannelConfig, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT channel, enabled, provider_name, credentials, settings, priority,
		       daily_limit, daily_sent_count, health_status, last_health_check
		FROM channel_configs WHERE channel = $1`, channel)

	var c model.ChannelConfig
	err := row.Scan(&c.Channel, &c.Enabled, &c.ProviderName, &c.Credentials, &c.Settings, &c.Priority,
		&c.DailyLimit, &c.DailySentCount, &c.HealthStatus, &c.LastHealthCheck)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel config: %w", err)
	}
	return &c, nil
}

func (p *Postgres) IncrementDailySentCount(ctx context.Context, channel model.Channel) error {
	_, err := p.pool.Exec(ctx, `UPDATE channel_configs SET daily_sent_count = daily_sent_count + 1 WHERE channel = $1`, channel)
	if err != nil {
		return fmt.Errorf("increment daily sent count: %w", err)
	}
	return nil
}

func (p *Postgres) InsertAuditRecord(ctx context.Context, rec *model.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_records (id, action, entity_id, client_id, client_ip, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		rec.ID, rec.Action, rec.EntityID, rec.ClientID, rec.ClientIP)
	if err != nil {
		p.logger.Warn("failed to insert audit record", zap.Error(err))
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
