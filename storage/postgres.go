package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stayscraper/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS url_queue (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			scraped_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_url_queue_dispatch
			ON url_queue (status, priority DESC, created_at ASC)`,
		`CREATE TABLE IF NOT EXISTS hotels (
			id BIGSERIAL PRIMARY KEY,
			url_id BIGINT NOT NULL REFERENCES url_queue(id),
			language TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_reviews INT NOT NULL DEFAULT 0,
			rating_category TEXT NOT NULL DEFAULT '',
			review_scores JSONB,
			services JSONB,
			facilities JSONB,
			house_rules TEXT NOT NULL DEFAULT '',
			important_info TEXT NOT NULL DEFAULT '',
			rooms JSONB,
			image_urls JSONB,
			images_local JSONB,
			images_count INT NOT NULL DEFAULT 0,
			scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (url_id, language)
		)`,
		`CREATE TABLE IF NOT EXISTS scraping_logs (
			id BIGSERIAL PRIMARY KEY,
			url_id BIGINT NOT NULL,
			language TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			items_extracted INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			vpn_ip TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS vpn_rotations (
			id BIGSERIAL PRIMARY KEY,
			old_ip TEXT NOT NULL DEFAULT '',
			new_ip TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ClaimPending atomically flips up to limit pending items to
// processing and returns them in dispatch order. The conditional
// UPDATE is the only guard against double dispatch; SKIP LOCKED keeps
// concurrent claimants from blocking each other. RETURNING rows carry
// no order guarantee, hence the outer ORDER BY over the CTE.
func (s *PostgresStore) ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	query := `
		WITH claimed AS (
			UPDATE url_queue SET status = 'processing', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM url_queue
				WHERE status = 'pending'
				ORDER BY priority DESC, created_at ASC
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, url, status, priority, retry_count, max_retries,
				last_error, scraped_at, created_at, updated_at
		)
		SELECT id, url, status, priority, retry_count, max_retries,
			last_error, scraped_at, created_at, updated_at
		FROM claimed
		ORDER BY priority DESC, created_at ASC`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		if err := rows.Scan(&it.ID, &it.URL, &it.Status, &it.Priority, &it.RetryCount,
			&it.MaxRetries, &it.LastError, &it.ScrapedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertHotel stores one (item, language) result. Re-scrapes replace
// the previous row for the same key, so retries can never duplicate.
func (s *PostgresStore) UpsertHotel(ctx context.Context, itemID int64, language string, rec *models.HotelRecord) error {
	reviewScores, _ := json.Marshal(rec.ReviewScores)
	services, _ := json.Marshal(rec.Services)
	facilities, _ := json.Marshal(rec.Facilities)
	rooms, _ := json.Marshal(rec.Rooms)
	imageURLs, _ := json.Marshal(rec.ImageURLs)
	imagesLocal, _ := json.Marshal(rec.ImagesLocal)

	query := `
		INSERT INTO hotels (
			url_id, language, name, address, description, rating, total_reviews,
			rating_category, review_scores, services, facilities, house_rules,
			important_info, rooms, image_urls, images_local, images_count, scraped_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
		ON CONFLICT (url_id, language) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			description = EXCLUDED.description,
			rating = EXCLUDED.rating,
			total_reviews = EXCLUDED.total_reviews,
			rating_category = EXCLUDED.rating_category,
			review_scores = EXCLUDED.review_scores,
			services = EXCLUDED.services,
			facilities = EXCLUDED.facilities,
			house_rules = EXCLUDED.house_rules,
			important_info = EXCLUDED.important_info,
			rooms = EXCLUDED.rooms,
			image_urls = EXCLUDED.image_urls,
			images_local = CASE
				WHEN EXCLUDED.images_count > 0 THEN EXCLUDED.images_local
				ELSE hotels.images_local
			END,
			images_count = CASE
				WHEN EXCLUDED.images_count > 0 THEN EXCLUDED.images_count
				ELSE hotels.images_count
			END,
			scraped_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		itemID, language, rec.Name, rec.Address, rec.Description, rec.Rating,
		rec.TotalReviews, rec.RatingCategory, reviewScores, services, facilities,
		rec.HouseRules, rec.ImportantInfo, rooms, imageURLs, imagesLocal, rec.ImagesCount,
	)
	if err != nil {
		return fmt.Errorf("upsert hotel %d/%s: %w", itemID, language, err)
	}
	return nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry *models.ScrapeLogEntry) error {
	query := `
		INSERT INTO scraping_logs (url_id, language, status, duration_ms,
			items_extracted, error_message, vpn_ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := s.pool.Exec(ctx, query, entry.URLID, entry.Language, entry.Status,
		entry.Duration.Milliseconds(), entry.ItemsExtracted, entry.ErrorMessage, entry.VPNIP)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// FinishItem records the item's final status. Success marks it
// completed; failure increments the retry counter and re-queues unless
// the retry budget is spent, in which case the item goes terminal.
func (s *PostgresStore) FinishItem(ctx context.Context, itemID int64, succeeded bool, lastError string) error {
	var query string
	var err error
	if succeeded {
		query = `
			UPDATE url_queue
			SET status = 'completed', scraped_at = NOW(), last_error = '', updated_at = NOW()
			WHERE id = $1`
		_, err = s.pool.Exec(ctx, query, itemID)
	} else {
		query = `
			UPDATE url_queue
			SET retry_count = retry_count + 1,
				status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
				last_error = $2,
				updated_at = NOW()
			WHERE id = $1`
		_, err = s.pool.Exec(ctx, query, itemID, lastError)
	}
	if err != nil {
		return fmt.Errorf("finish item %d: %w", itemID, err)
	}
	return nil
}

func (s *PostgresStore) RecordRotation(ctx context.Context, ev models.RotationEvent) error {
	query := `
		INSERT INTO vpn_rotations (old_ip, new_ip, country, reason, success, error)
		VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := s.pool.Exec(ctx, query, ev.OldIP, ev.NewIP, ev.Country, ev.Reason, ev.Success, ev.Error)
	if err != nil {
		return fmt.Errorf("record rotation: %w", err)
	}
	return nil
}

// MarkTerminal forces an item into a final status, bypassing retry
// bookkeeping. Maintenance escape hatch; normal flow uses FinishItem.
func (s *PostgresStore) MarkTerminal(ctx context.Context, itemID int64, status models.QueueStatus, lastError string) error {
	query := `
		UPDATE url_queue SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, itemID, status, lastError); err != nil {
		return fmt.Errorf("mark terminal %d: %w", itemID, err)
	}
	return nil
}

// ResetStuck re-queues items stranded in processing, typically after a
// crash or a kill during a scrape. Returns how many were recovered.
func (s *PostgresStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE url_queue SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - $1::interval`

	tag, err := s.pool.Exec(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnqueueURL adds a property URL to the queue; already-known URLs are
// left untouched.
func (s *PostgresStore) EnqueueURL(ctx context.Context, url string, priority int) error {
	query := `
		INSERT INTO url_queue (url, priority) VALUES ($1, $2)
		ON CONFLICT (url) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, url, priority); err != nil {
		return fmt.Errorf("enqueue %s: %w", url, err)
	}
	return nil
}

func (s *PostgresStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM url_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}
