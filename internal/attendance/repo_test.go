package attendance

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionMapsGeofenceAndRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	starts := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	ends := starts.Add(time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "class_id", "starts_at", "ends_at", "active",
		"late_threshold_min", "require_photo", "require_qr",
		"latitude", "longitude", "radius_m",
	}).AddRow("S1", "C1", starts, ends, true, 15, true, false, 48.7887, 2.3638, 50.0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.id, s.class_id")).WithArgs("S1").WillReturnRows(rows)

	sess, err := repo.GetSession(context.Background(), "S1")
	require.NoError(t, err)

	assert.Equal(t, "C1", sess.ClassID)
	assert.Equal(t, 15*time.Minute, sess.Rules.LateThreshold)
	assert.True(t, sess.Rules.RequirePhoto)
	require.NotNil(t, sess.Geofence)
	assert.Equal(t, 50.0, sess.Geofence.RadiusMeters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionWithoutGeofence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	starts := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "class_id", "starts_at", "ends_at", "active",
		"late_threshold_min", "require_photo", "require_qr",
		"latitude", "longitude", "radius_m",
	}).AddRow("S1", "C1", starts, starts.Add(time.Hour), true, 0, false, false, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.id, s.class_id")).WithArgs("S1").WillReturnRows(rows)

	sess, err := repo.GetSession(context.Background(), "S1")
	require.NoError(t, err)
	assert.Nil(t, sess.Geofence)
}

func TestGetSessionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.id, s.class_id")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInsertRecordConflictReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	// ON CONFLICT DO NOTHING returns no row for a duplicate insert.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	existing := sqlmock.NewRows([]string{
		"id", "session_id", "student_id", "status", "method",
		"checked_in_at", "distance_m", "matched_token_id", "photo_url", "created_at",
	}).AddRow("rec-1", "S1", "stu-1", StatusPresent, MethodQR, now, nil, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_records")).
		WithArgs("S1", "stu-1").
		WillReturnRows(existing)

	rec, err := repo.InsertRecord(context.Background(), Record{
		SessionID: "S1", StudentID: "stu-1",
		Status: StatusPresent, Method: MethodQR, CheckedInAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRecordPhotoURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_records SET photo_url")).
		WithArgs("rec-1", "https://cdn.example/retry.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetRecordPhotoURL(context.Background(), "rec-1", "https://cdn.example/retry.jpg"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseExpiredSessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE attendance_sessions")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id"}).AddRow("S1", "C1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs("S1", now, "C1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	closed, err := repo.CloseExpiredSessions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
