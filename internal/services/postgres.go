package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/droplink-app/droplink-service/internal/models"
	"github.com/lib/pq"
)

// PostgresStore handles PostgreSQL operations for links, subscriptions and
// the processed-event ledger.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool and bootstraps the schema.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &PostgresStore{db: db}
	if err := p.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	log.Println("Connected to PostgreSQL successfully")
	return p, nil
}

func (p *PostgresStore) createTables() error {
	query := `
    CREATE TABLE IF NOT EXISTS file_links (
        code VARCHAR(16) PRIMARY KEY,
        file_path VARCHAR(500) NOT NULL,
        file_bytes BIGINT NOT NULL DEFAULT 0,
        paid BOOLEAN NOT NULL DEFAULT false,
        paid_at TIMESTAMPTZ,
        expires_at TIMESTAMPTZ NOT NULL,
        deleted_at TIMESTAMPTZ,
        deleted_reason VARCHAR(100),
        storage_deleted BOOLEAN NOT NULL DEFAULT false,
        created_by_user_id VARCHAR(100),
        flagged BOOLEAN NOT NULL DEFAULT false,
        flag_reason VARCHAR(255),
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS subscriptions (
        user_id VARCHAR(100) PRIMARY KEY,
        plan VARCHAR(10) NOT NULL DEFAULT 'free',
        status VARCHAR(30) NOT NULL DEFAULT 'unknown',
        stripe_customer_id VARCHAR(100),
        stripe_subscription_id VARCHAR(100),
        current_period_end TIMESTAMPTZ,
        cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS processed_events (
        id VARCHAR(100) PRIMARY KEY,
        type VARCHAR(100) NOT NULL,
        processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    `
	if _, err := p.db.Exec(query); err != nil {
		return err
	}

	indexQuery := `
    CREATE INDEX IF NOT EXISTS idx_file_links_expires_at ON file_links(expires_at);
    CREATE INDEX IF NOT EXISTS idx_file_links_created_by ON file_links(created_by_user_id);
    CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_sub ON subscriptions(stripe_subscription_id);
    `
	_, err := p.db.Exec(indexQuery)
	return err
}

// Ping is used by the health endpoint.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

const fileLinkColumns = `code, file_path, file_bytes, paid, paid_at, expires_at, deleted_at, deleted_reason, storage_deleted, created_by_user_id, flagged, flag_reason, created_at`

func scanFileLink(row interface{ Scan(...interface{}) error }) (*models.FileLink, error) {
	var link models.FileLink
	var deletedReason, createdBy, flagReason sql.NullString
	err := row.Scan(
		&link.Code,
		&link.FilePath,
		&link.FileBytes,
		&link.Paid,
		&link.PaidAt,
		&link.ExpiresAt,
		&link.DeletedAt,
		&deletedReason,
		&link.StorageDeleted,
		&createdBy,
		&link.Flagged,
		&flagReason,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.DeletedReason = deletedReason.String
	link.CreatedByUserID = createdBy.String
	link.FlagReason = flagReason.String
	return &link, nil
}

// CreateFileLink inserts a new link. When link.Code is empty a code is
// generated and regenerated on collision.
func (p *PostgresStore) CreateFileLink(ctx context.Context, link *models.FileLink) error {
	generate := link.Code == ""
	for attempt := 0; attempt < 5; attempt++ {
		if generate {
			code, err := NewCode()
			if err != nil {
				return err
			}
			link.Code = code
		}
		err := p.insertFileLink(ctx, link)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCodeTaken) && generate {
			log.Printf("[DB] code collision on %s, regenerating", link.Code)
			continue
		}
		return err
	}
	return fmt.Errorf("create file link: exhausted code generation attempts")
}

func (p *PostgresStore) insertFileLink(ctx context.Context, link *models.FileLink) error {
	query := `
    INSERT INTO file_links (code, file_path, file_bytes, expires_at, created_by_user_id, flagged, flag_reason)
    VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''))
    `
	_, err := p.db.ExecContext(ctx, query,
		link.Code,
		link.FilePath,
		link.FileBytes,
		link.ExpiresAt,
		link.CreatedByUserID,
		link.Flagged,
		link.FlagReason,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrCodeTaken
	}
	return err
}

func (p *PostgresStore) GetFileLink(ctx context.Context, code string) (*models.FileLink, error) {
	query := `SELECT ` + fileLinkColumns + ` FROM file_links WHERE code = $1`
	link, err := scanFileLink(p.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return link, nil
}

// MarkPaid sets paid=true on a live row. paid_at is stamped only on the
// first transition; replays leave it untouched.
func (p *PostgresStore) MarkPaid(ctx context.Context, code string) (bool, error) {
	query := `
    UPDATE file_links
    SET paid = true,
        paid_at = COALESCE(paid_at, NOW()),
        updated_at = NOW()
    WHERE code = $1 AND deleted_at IS NULL
    `
	result, err := p.db.ExecContext(ctx, query, code)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// SoftDeleteFileLink is conditioned on deleted_at still being null so a race
// between two sweepers resolves to exactly one winner.
func (p *PostgresStore) SoftDeleteFileLink(ctx context.Context, code, reason string) (bool, error) {
	query := `
    UPDATE file_links
    SET deleted_at = NOW(),
        deleted_reason = $2,
        updated_at = NOW()
    WHERE code = $1 AND deleted_at IS NULL
    `
	result, err := p.db.ExecContext(ctx, query, code, reason)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (p *PostgresStore) MarkStorageDeleted(ctx context.Context, code string) error {
	query := `UPDATE file_links SET storage_deleted = true, updated_at = NOW() WHERE code = $1`
	_, err := p.db.ExecContext(ctx, query, code)
	return err
}

// HardDeleteFileLink re-checks storage_deleted at delete time; a value read
// earlier in a batch is not trusted.
func (p *PostgresStore) HardDeleteFileLink(ctx context.Context, code string) (bool, error) {
	query := `DELETE FROM file_links WHERE code = $1 AND storage_deleted = true`
	result, err := p.db.ExecContext(ctx, query, code)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (p *PostgresStore) ListExpiredLinks(ctx context.Context, onlySoftDeleted bool, limit int) ([]*models.FileLink, error) {
	query := `SELECT ` + fileLinkColumns + ` FROM file_links WHERE expires_at < NOW()`
	if onlySoftDeleted {
		query += ` AND deleted_at IS NOT NULL`
	}
	query += ` ORDER BY expires_at ASC LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if cerr := rows.Close(); cerr != nil {
			log.Printf("Error closing rows: %v", cerr)
		}
	}(rows)

	var links []*models.FileLink
	for rows.Next() {
		link, err := scanFileLink(rows)
		if err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (p *PostgresStore) CountExpiredLinks(ctx context.Context, onlySoftDeleted bool) (int, int64, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(file_bytes), 0) FROM file_links WHERE expires_at < NOW()`
	if onlySoftDeleted {
		query += ` AND deleted_at IS NOT NULL`
	}
	var count int
	var bytes int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&count, &bytes); err != nil {
		return 0, 0, err
	}
	return count, bytes, nil
}

func (p *PostgresStore) ListLinksByCreator(ctx context.Context, userID string, limit, offset int) ([]*models.FileLink, error) {
	query := `SELECT ` + fileLinkColumns + ` FROM file_links
    WHERE created_by_user_id = $1 AND deleted_at IS NULL
    ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := p.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if cerr := rows.Close(); cerr != nil {
			log.Printf("Error closing rows: %v", cerr)
		}
	}(rows)

	var links []*models.FileLink
	for rows.Next() {
		link, err := scanFileLink(rows)
		if err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (p *PostgresStore) CreatorLinkStats(ctx context.Context, userID string) (*LinkStats, error) {
	query := `
    SELECT COUNT(*), COUNT(*) FILTER (WHERE paid), COALESCE(SUM(file_bytes), 0)
    FROM file_links WHERE created_by_user_id = $1 AND deleted_at IS NULL
    `
	var stats LinkStats
	if err := p.db.QueryRowContext(ctx, query, userID).Scan(&stats.TotalLinks, &stats.PaidLinks, &stats.TotalBytes); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (p *PostgresStore) LinkStats(ctx context.Context) (*LinkStats, error) {
	query := `
    SELECT COUNT(*), COUNT(*) FILTER (WHERE paid), COALESCE(SUM(file_bytes), 0)
    FROM file_links WHERE deleted_at IS NULL
    `
	var stats LinkStats
	if err := p.db.QueryRowContext(ctx, query).Scan(&stats.TotalLinks, &stats.PaidLinks, &stats.TotalBytes); err != nil {
		return nil, err
	}
	return &stats, nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var customerID, subscriptionID sql.NullString
	err := row.Scan(
		&sub.UserID,
		&sub.Plan,
		&sub.Status,
		&customerID,
		&subscriptionID,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.StripeCustomerID = customerID.String
	sub.StripeSubscriptionID = subscriptionID.String
	return &sub, nil
}

const subscriptionColumns = `user_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end, cancel_at_period_end, updated_at`

func (p *PostgresStore) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (p *PostgresStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (p *PostgresStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
    INSERT INTO subscriptions (user_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end, cancel_at_period_end)
    VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
    ON CONFLICT (user_id) DO UPDATE SET
        plan = EXCLUDED.plan,
        status = EXCLUDED.status,
        stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
        stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
        current_period_end = EXCLUDED.current_period_end,
        cancel_at_period_end = EXCLUDED.cancel_at_period_end,
        updated_at = NOW()
    `
	_, err := p.db.ExecContext(ctx, query,
		sub.UserID,
		sub.Plan,
		sub.Status,
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
	)
	return err
}

// SetStripeCustomerID persists a freshly created customer id, including the
// self-heal case where the old id no longer resolves upstream.
func (p *PostgresStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	query := `
    INSERT INTO subscriptions (user_id, stripe_customer_id)
    VALUES ($1, $2)
    ON CONFLICT (user_id) DO UPDATE SET
        stripe_customer_id = EXCLUDED.stripe_customer_id,
        updated_at = NOW()
    `
	_, err := p.db.ExecContext(ctx, query, userID, customerID)
	return err
}

// InsertProcessedEvent is the idempotency gate: the unique-key insert makes
// exactly one concurrent caller win.
func (p *PostgresStore) InsertProcessedEvent(ctx context.Context, id, eventType string) (bool, error) {
	query := `INSERT INTO processed_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	result, err := p.db.ExecContext(ctx, query, id, eventType)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
