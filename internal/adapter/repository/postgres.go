package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const iocColumns = `id, type, value, source, confidence, first_seen, last_seen, tags, description`
const feedColumns = `id, title, summary, source, severity, tags, ts, url, content`

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// --- feeds ---

func (r *PostgresRepository) SaveFeeds(ctx context.Context, feeds []domain.ThreatFeed) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO feeds (` + feedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			summary = EXCLUDED.summary,
			severity = EXCLUDED.severity,
			tags = EXCLUDED.tags,
			content = EXCLUDED.content
	`

	for _, f := range feeds {
		if f.ID == "" {
			f.ID = domain.FeedID(f)
		}
		batch.Queue(query, f.ID, f.Title, f.Summary, f.Source, f.Severity, nonNil(f.Tags), f.Timestamp, f.URL, f.Content)
	}
	bumpRevision(batch)

	return r.sendBatch(ctx, batch)
}

// bumpRevision advances data_revision as the last statement of a non-empty write.
func bumpRevision(batch *pgx.Batch) {
	if batch.Len() > 0 {
		batch.Queue(`SELECT nextval('data_revision')`)
	}
}

// DataRevision reads the sequence without advancing it. Writes from other
// processes sharing the database move it too.
func (r *PostgresRepository) DataRevision(ctx context.Context) (int64, error) {
	var rev int64
	if err := r.db.QueryRow(ctx, `SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM data_revision`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("failed to read data revision: %w", err)
	}
	return rev, nil
}

func scanFeed(row pgx.Row) (domain.ThreatFeed, error) {
	var f domain.ThreatFeed
	err := row.Scan(&f.ID, &f.Title, &f.Summary, &f.Source, &f.Severity, &f.Tags, &f.Timestamp, &f.URL, &f.Content)
	return f, err
}

func (r *PostgresRepository) ListFeeds(ctx context.Context) ([]domain.ThreatFeed, error) {
	rows, err := r.db.Query(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	defer rows.Close()

	feeds := []domain.ThreatFeed{}
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return feeds, nil
}

func (r *PostgresRepository) FindFeed(ctx context.Context, id string) (*domain.ThreatFeed, error) {
	f, err := scanFeed(r.db.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// --- iocs ---

func (r *PostgresRepository) SaveIOCs(ctx context.Context, iocs []domain.IOC) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO iocs (` + iocColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (type, value, source) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			first_seen = LEAST(iocs.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(iocs.last_seen, EXCLUDED.last_seen)
	`

	for _, ioc := range iocs {
		if ioc.ID == "" {
			ioc.ID = domain.IOCID(ioc)
		}
		batch.Queue(query,
			ioc.ID,
			ioc.Type,
			ioc.Value,
			ioc.Source,
			ioc.Confidence,
			ioc.FirstSeen,
			ioc.LastSeen,
			nonNil(ioc.Tags),
			ioc.Description,
		)
	}
	bumpRevision(batch)

	return r.sendBatch(ctx, batch)
}

func scanIOC(row pgx.Row) (domain.IOC, error) {
	var ioc domain.IOC
	err := row.Scan(
		&ioc.ID,
		&ioc.Type,
		&ioc.Value,
		&ioc.Source,
		&ioc.Confidence,
		&ioc.FirstSeen,
		&ioc.LastSeen,
		&ioc.Tags,
		&ioc.Description,
	)
	return ioc, err
}

func (r *PostgresRepository) queryIOCs(ctx context.Context, query string, args ...any) ([]domain.IOC, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IOCs: %w", err)
	}
	defer rows.Close()

	iocs := []domain.IOC{}
	for rows.Next() {
		ioc, err := scanIOC(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan IOC: %w", err)
		}
		iocs = append(iocs, ioc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return iocs, nil
}

func (r *PostgresRepository) ListIOCs(ctx context.Context) ([]domain.IOC, error) {
	return r.queryIOCs(ctx, `SELECT `+iocColumns+` FROM iocs ORDER BY first_seen DESC`)
}

func (r *PostgresRepository) FindIOC(ctx context.Context, id string) (*domain.IOC, error) {
	ioc, err := scanIOC(r.db.QueryRow(ctx, `SELECT `+iocColumns+` FROM iocs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &ioc, nil
}

func (r *PostgresRepository) FindAllByValue(ctx context.Context, value string) ([]domain.IOC, error) {
	return r.queryIOCs(ctx, `
		SELECT `+iocColumns+`
		FROM iocs
		WHERE value = $1
		ORDER BY first_seen DESC
	`, value)
}

func (r *PostgresRepository) FindContaining(ctx context.Context, value string) ([]domain.IOC, error) {
	// Example: searching for "198.0.2.12" will find "http://198.0.2.12/malware.sh"
	return r.queryIOCs(ctx, `
		SELECT `+iocColumns+`
		FROM iocs
		WHERE value LIKE '%' || $1 || '%'
		ORDER BY first_seen DESC
		LIMIT 100
	`, value)
}

func (r *PostgresRepository) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.IOC, error) {
	return r.queryIOCs(ctx, `
		SELECT `+iocColumns+`
		FROM iocs
		WHERE first_seen >= $1
		ORDER BY first_seen DESC
		LIMIT $2
	`, since.UnixMilli(), limit)
}

// --- summaries ---

func (r *PostgresRepository) SaveSummaries(ctx context.Context, summaries []domain.AISummary) error {
	batch := &pgx.Batch{}
	for _, s := range summaries {
		if s.ID == "" {
			s.ID = domain.NewID()
		}
		batch.Queue(`
			INSERT INTO ai_summaries (id, type, content, ts, confidence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, s.ID, s.Type, s.Content, s.Timestamp, s.Confidence)
	}
	if batch.Len() > 0 {
		batch.Queue(`
			DELETE FROM ai_summaries
			WHERE id NOT IN (SELECT id FROM ai_summaries ORDER BY ts DESC, id LIMIT $1)
		`, MaxSummaries)
	}
	return r.sendBatch(ctx, batch)
}

func (r *PostgresRepository) ListSummaries(ctx context.Context) ([]domain.AISummary, error) {
	rows, err := r.db.Query(ctx, `SELECT id, type, content, ts, confidence FROM ai_summaries ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	out := []domain.AISummary{}
	for rows.Next() {
		var s domain.AISummary
		if err := rows.Scan(&s.ID, &s.Type, &s.Content, &s.Timestamp, &s.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- notifications ---

func (r *PostgresRepository) SaveNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	var label, link string
	if n.Action != nil {
		label, link = n.Action.Label, n.Action.URL
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, type, title, message, ts, read, action_label, action_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET read = EXCLUDED.read
	`, n.ID, n.Type, n.Title, n.Message, n.Timestamp, n.Read, label, link)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, type, title, message, ts, read, action_label, action_url
		FROM notifications
		ORDER BY ts DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var label, link string
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Timestamp, &n.Read, &label, &link); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if label != "" || link != "" {
			n.Action = &domain.NotificationAction{Label: label, URL: link}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- settings & sources ---

func (r *PostgresRepository) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	s := domain.DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) SaveSettings(ctx context.Context, s domain.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO settings (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, raw)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveSource(ctx context.Context, src domain.FeedSource) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO feed_sources (name, url, type, enabled, last_check, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			url = EXCLUDED.url,
			type = EXCLUDED.type,
			enabled = EXCLUDED.enabled,
			last_check = EXCLUDED.last_check,
			status = EXCLUDED.status
	`, src.Name, src.URL, src.Type, src.Enabled, src.LastCheck, src.Status)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.Name, err)
	}
	return nil
}

func (r *PostgresRepository) ListSources(ctx context.Context) ([]domain.FeedSource, error) {
	rows, err := r.db.Query(ctx, `SELECT name, url, type, enabled, last_check, status FROM feed_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	out := []domain.FeedSource{}
	for rows.Next() {
		var s domain.FeedSource
		if err := rows.Scan(&s.Name, &s.URL, &s.Type, &s.Enabled, &s.LastCheck, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
