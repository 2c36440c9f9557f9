package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"challengebot/internal/challenge"
	logx "challengebot/pkg/logx"
)

//go:embed migrations
var migrationsFS embed.FS

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	migrations string // directory under migrations/
	dollar     bool   // $1 placeholders instead of ?
}

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

const scheduleCols = `id, owner_id, channel_id, message, time_of_day, with_date, start_date, end_date, created_at`

// q rewrites ? placeholders for dialects that number them.
func (s *sqlStore) q(query string) string {
	if !s.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate applies every not yet applied file of the dialect, in name order,
// one transaction per file.
func (s *sqlStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	dir := "migrations/" + s.d.migrations
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		var one int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM schema_migrations WHERE name = ?`), e.Name()).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		body, err := fs.ReadFile(migrationsFS, dir+"/"+e.Name())
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`), e.Name(), time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Info("migration applied", logx.String("driver", s.d.name), logx.String("file", e.Name()))
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) UpsertUser(ctx context.Context, u User) error {
	first := u.FirstSeen
	if first.IsZero() {
		first = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, username, first_seen) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username`),
		u.ID, u.Username, first.Unix(),
	)
	return err
}

func (s *sqlStore) AddChannel(ctx context.Context, ch Channel) (Channel, error) {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	var created int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO channels (owner_id, channel_id, title, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, channel_id) DO UPDATE SET title = excluded.title
		RETURNING id, created_at`),
		ch.OwnerID, ch.ChannelID, ch.Title, ch.CreatedAt.Unix(),
	).Scan(&ch.ID, &created)
	if err != nil {
		return Channel{}, err
	}
	ch.CreatedAt = time.Unix(created, 0)
	return ch, nil
}

func (s *sqlStore) ListChannels(ctx context.Context, ownerID int64) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, owner_id, channel_id, title, created_at
		FROM channels WHERE owner_id = ? ORDER BY id`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetChannel(ctx context.Context, id int64) (Channel, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, owner_id, channel_id, title, created_at
		FROM channels WHERE id = ?`), id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	return ch, err
}

func (s *sqlStore) DeleteChannel(ctx context.Context, id int64) ([]challenge.Schedule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ch, err := scanChannel(tx.QueryRowContext(ctx, s.q(`
		SELECT id, owner_id, channel_id, title, created_at
		FROM channels WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, s.q(`SELECT `+scheduleCols+`
		FROM schedules WHERE owner_id = ? AND channel_id = ? ORDER BY id`), ch.OwnerID, ch.ChannelID)
	if err != nil {
		return nil, err
	}
	removed, err := collectSchedules(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM schedules WHERE owner_id = ? AND channel_id = ?`), ch.OwnerID, ch.ChannelID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM channels WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return removed, tx.Commit()
}

func (s *sqlStore) CreateSchedule(ctx context.Context, rec challenge.Schedule) (challenge.Schedule, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if strings.TrimSpace(rec.StartDate) == "" {
		rec.StartDate = challenge.DefaultStartDate
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO schedules (owner_id, channel_id, message, time_of_day, with_date, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		rec.OwnerID, rec.ChannelID, rec.Message, rec.TimeOfDay, rec.WithDate,
		rec.StartDate, nullString(rec.EndDate), rec.CreatedAt.Unix(),
	).Scan(&rec.ID)
	if err != nil {
		return challenge.Schedule{}, err
	}
	rec.CreatedAt = time.Unix(rec.CreatedAt.Unix(), 0)
	return rec, nil
}

func (s *sqlStore) ListSchedules(ctx context.Context) ([]challenge.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *sqlStore) ListSchedulesByOwner(ctx context.Context, ownerID int64) ([]challenge.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+scheduleCols+` FROM schedules WHERE owner_id = ? ORDER BY id`), ownerID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *sqlStore) GetSchedule(ctx context.Context, id int64) (challenge.Schedule, error) {
	rec, err := scanSchedule(s.db.QueryRowContext(ctx, s.q(`SELECT `+scheduleCols+` FROM schedules WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Schedule{}, ErrNotFound
	}
	return rec, err
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM schedules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(r scanner) (Channel, error) {
	var ch Channel
	var created int64
	if err := r.Scan(&ch.ID, &ch.OwnerID, &ch.ChannelID, &ch.Title, &created); err != nil {
		return Channel{}, err
	}
	ch.CreatedAt = time.Unix(created, 0)
	return ch, nil
}

func scanSchedule(r scanner) (challenge.Schedule, error) {
	var rec challenge.Schedule
	var end sql.NullString
	var created int64
	if err := r.Scan(&rec.ID, &rec.OwnerID, &rec.ChannelID, &rec.Message, &rec.TimeOfDay,
		&rec.WithDate, &rec.StartDate, &end, &created); err != nil {
		return challenge.Schedule{}, err
	}
	rec.EndDate = end.String
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}

func collectSchedules(rows *sql.Rows) ([]challenge.Schedule, error) {
	defer rows.Close()
	var out []challenge.Schedule
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
