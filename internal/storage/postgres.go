package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore implements the identity and activity directories, the
// attendance store and the gallery store on one connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return Connect(ctx, cfg.DSN(), cfg.MaxConns)
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---

// UpsertIdentity creates or updates an identity record.
func (s *PostgresStore) UpsertIdentity(ctx context.Context, id *models.Identity) error {
	if id.Role == "" {
		id.Role = models.RoleStudent
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, display_name, email, role) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email, role = EXCLUDED.role
		 RETURNING created_at`,
		id.ID, id.DisplayName, id.Email, id.Role,
	).Scan(&id.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	i := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, email, role, created_at FROM identities WHERE id = $1`, id,
	).Scan(&i.ID, &i.DisplayName, &i.Email, &i.Role, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("identity %s: %w", id, gallery.ErrIdentityNotFound)
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, nil
}

// --- Activities ---

// CreateActivity stores an activity with its geofences.
func (s *PostgresStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create activity: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO activities (id, name, description, date, created_by) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		a.ID, a.Name, a.Description, a.Date, a.CreatedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}

	batch := &pgx.Batch{}
	for _, g := range a.Geofences {
		batch.Queue(`INSERT INTO activity_geofences (activity_id, lat, lon, radius_meters) VALUES ($1, $2, $3, $4)`,
			a.ID, g.Lat, g.Lon, g.RadiusMeters)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create geofences: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	a := &models.Activity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, date, created_by, created_at FROM activities WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Description, &a.Date, &a.CreatedBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("activity %s: %w", id, checkin.ErrActivityNotFound)
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT lat, lon, radius_meters FROM activity_geofences WHERE activity_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g models.Geofence
		if err := rows.Scan(&g.Lat, &g.Lon, &g.RadiusMeters); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		a.Geofences = append(a.Geofences, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	return a, nil
}

// --- Attendance ---

func (s *PostgresStore) CreateAttendance(ctx context.Context, rec *models.AttendanceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (id, identity_id, activity_id, status, timestamp, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.IdentityID, rec.ActivityID, rec.Status, rec.Timestamp, rec.CreatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return checkin.ErrConflict
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

const attendanceColumns = `a.id, a.identity_id, a.activity_id, act.name, act.date, a.status, a.timestamp, a.created_by`

func scanAttendance(row pgx.Row, r *models.AttendanceRecord) error {
	return row.Scan(&r.ID, &r.IdentityID, &r.ActivityID, &r.ActivityName, &r.ActivityDate,
		&r.Status, &r.Timestamp, &r.CreatedBy)
}

// GetAttendance returns one record with its activity name and date.
func (s *PostgresStore) GetAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	r := &models.AttendanceRecord{}
	err := scanAttendance(s.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance a JOIN activities act ON act.id = a.activity_id
		 WHERE a.id = $1`, id), r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attendance %s: %w", id, checkin.ErrAttendanceNotFound)
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return r, nil
}

// ListAttendance returns an identity's records newest first, with activity
// name and date.
func (s *PostgresStore) ListAttendance(ctx context.Context, identityID string, limit int) ([]models.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance a JOIN activities act ON act.id = a.activity_id
		 WHERE a.identity_id = $1 ORDER BY a.timestamp DESC LIMIT $2`,
		identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := scanAttendance(rows, &r); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Gallery ---

// Load returns every identity with descriptors, ordered by first enrollment.
func (s *PostgresStore) Load(ctx context.Context) ([]models.GalleryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT g.identity_id, i.display_name, g.descriptor
		 FROM gallery_descriptors g
		 JOIN identities i ON i.id = g.identity_id
		 ORDER BY g.id`)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	var entries []models.GalleryEntry
	index := make(map[string]int)
	for rows.Next() {
		var (
			identityID, name string
			vec              pgvector.Vector
		)
		if err := rows.Scan(&identityID, &name, &vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		i, ok := index[identityID]
		if !ok {
			i = len(entries)
			index[identityID] = i
			entries = append(entries, models.GalleryEntry{IdentityID: identityID, DisplayName: name})
		}
		entries[i].Descriptors = append(entries[i].Descriptors, models.Descriptor(vec.Slice()))
	}
	return entries, rows.Err()
}

// Replace rewrites the whole gallery in one transaction.
func (s *PostgresStore) Replace(ctx context.Context, entries []models.GalleryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace gallery: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM gallery_descriptors`); err != nil {
		return fmt.Errorf("clear gallery: %w", err)
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		queueEntry(batch, e)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write gallery: %w", err)
	}
	return tx.Commit(ctx)
}

// AppendDescriptors inserts descriptors for one identity without touching
// the rest of the gallery.
func (s *PostgresStore) AppendDescriptors(ctx context.Context, entry models.GalleryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append descriptors: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	queueEntry(batch, entry)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert descriptors: %w", err)
	}
	return tx.Commit(ctx)
}

func queueEntry(batch *pgx.Batch, e models.GalleryEntry) {
	batch.Queue(`INSERT INTO identities (id, display_name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		e.IdentityID, e.DisplayName)
	for _, d := range e.Descriptors {
		batch.Queue(`INSERT INTO gallery_descriptors (identity_id, descriptor) VALUES ($1, $2)`,
			e.IdentityID, pgvector.NewVector(d))
	}
}

// CountDescriptors returns descriptor counts per identity.
func (s *PostgresStore) CountDescriptors(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identity_id, COUNT(*) FROM gallery_descriptors GROUP BY identity_id`)
	if err != nil {
		return nil, fmt.Errorf("count descriptors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan descriptor count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

var (
	_ gallery.Store             = (*PostgresStore)(nil)
	_ gallery.Appender          = (*PostgresStore)(nil)
	_ gallery.IdentityDirectory = (*PostgresStore)(nil)
	_ checkin.ActivityDirectory = (*PostgresStore)(nil)
	_ checkin.AttendanceStore   = (*PostgresStore)(nil)
)
