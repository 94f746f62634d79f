package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"noesis/internal/geo"
)

// ErrSessionNotFound is returned when a claim names a session the system
// does not know about.
var ErrSessionNotFound = errors.New("attendance: session not found")

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
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
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// GetSession loads a session with its class geofence, if configured.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.class_id, s.starts_at, s.ends_at, s.active,
		       s.late_threshold_min, s.require_photo, s.require_qr,
		       c.latitude, c.longitude, c.radius_m
		FROM attendance_sessions s
		JOIN classes c ON c.id = s.class_id
		WHERE s.id = $1
	`, sessionID)

	var sess Session
	var lateMin int
	var lat, lon, radius sql.NullFloat64
	err := row.Scan(&sess.ID, &sess.ClassID, &sess.StartsAt, &sess.EndsAt, &sess.Active,
		&lateMin, &sess.Rules.RequirePhoto, &sess.Rules.RequireQR,
		&lat, &lon, &radius)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.Rules.LateThreshold = time.Duration(lateMin) * time.Minute
	if lat.Valid && lon.Valid && radius.Valid {
		sess.Geofence = &geo.ClassGeofence{
			Latitude:     lat.Float64,
			Longitude:    lon.Float64,
			RadiusMeters: radius.Float64,
		}
	}
	return sess, nil
}

// InsertRecord writes a record for (session, student). A row that already
// exists wins: the stored record comes back unchanged, making duplicate
// accepted verdicts idempotent.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckedInAt.IsZero() {
		rec.CheckedInAt = time.Now().UTC()
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, method, checked_in_at, distance_m, matched_token_id, photo_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Method, rec.CheckedInAt,
		rec.DistanceMeters, rec.MatchedTokenID, rec.PhotoURL)

	err := row.Scan(&rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetRecord(ctx, rec.SessionID, rec.StudentID)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns the record for one student in one session.
func (r *Repository) GetRecord(ctx context.Context, sessionID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, status, method, checked_in_at, distance_m, matched_token_id, photo_url, created_at
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	return scanRecord(row)
}

// GetRecordByID returns a single record.
func (r *Repository) GetRecordByID(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, status, method, checked_in_at, distance_m, matched_token_id, photo_url, created_at
		FROM attendance_records
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

// ListRecords returns all records for a session, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, status, method, checked_in_at, distance_m, matched_token_id, photo_url, created_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY checked_in_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Method,
			&rec.CheckedInAt, &rec.DistanceMeters, &rec.MatchedTokenID, &rec.PhotoURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SetRecordPhotoURL attaches an uploaded photo URL after the fact.
func (r *Repository) SetRecordPhotoURL(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET photo_url = $2 WHERE id = $1
	`, id, url)
	return err
}

// CloseExpiredSessions deactivates sessions past their end time and marks
// enrolled students without a record absent. Returns how many sessions
// were closed.
func (r *Repository) CloseExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE attendance_sessions
		SET active = FALSE
		WHERE active AND ends_at < $1
		RETURNING id, class_id
	`, now)
	if err != nil {
		return 0, err
	}
	type closedSession struct{ sessionID, classID string }
	var closed []closedSession
	for rows.Next() {
		var c closedSession
		if err := rows.Scan(&c.sessionID, &c.classID); err != nil {
			rows.Close()
			return 0, err
		}
		closed = append(closed, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, c := range closed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, session_id, student_id, status, method, checked_in_at)
			SELECT gen_random_uuid(), $1, cs.student_id, 'absent', 'manual', $2
			FROM class_students cs
			WHERE cs.class_id = $3
			  AND NOT EXISTS (
				SELECT 1 FROM attendance_records ar
				WHERE ar.session_id = $1 AND ar.student_id = cs.student_id
			  )
		`, c.sessionID, now, c.classID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(closed), nil
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Method,
		&rec.CheckedInAt, &rec.DistanceMeters, &rec.MatchedTokenID, &rec.PhotoURL, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}
