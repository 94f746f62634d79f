package attendance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noesis/internal/checkin"
	"noesis/internal/geo"
	"noesis/internal/qrtoken"
	"noesis/internal/queue"
)

type stubStore struct {
	sessions map[string]Session
	inserted []Record
	devices  []string
}

func (s *stubStore) UpsertDevice(_ context.Context, deviceID string) error {
	s.devices = append(s.devices, deviceID)
	return nil
}

func (s *stubStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *stubStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	rec.ID = fmt.Sprintf("rec-%d", len(s.inserted)+1)
	rec.CreatedAt = rec.CheckedInAt
	s.inserted = append(s.inserted, rec)
	return rec, nil
}

type stubUploader struct {
	url string
	err error
}

func (u *stubUploader) UploadBytes([]byte, string) (string, error) {
	return u.url, u.err
}

type serviceFixture struct {
	svc    *Service
	store  *stubStore
	issuer *qrtoken.Issuer
	q      *queue.InMemory
	now    time.Time
}

func newServiceFixture(sess Session) *serviceFixture {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	issuer := qrtoken.NewIssuer(qrtoken.NewMemoryStore(), qrtoken.WithClock(func() time.Time { return now }))
	store := &stubStore{sessions: map[string]Session{sess.ID: sess}}
	q := queue.NewInMemory(8)
	svc := NewService(store, checkin.NewVerifier(issuer), nil, q).
		WithClock(func() time.Time { return now })
	return &serviceFixture{svc: svc, store: store, issuer: issuer, q: q, now: now}
}

func activeSession() Session {
	return Session{
		ID:       "S1",
		ClassID:  "C1",
		StartsAt: time.Date(2026, 3, 9, 9, 55, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC),
		Active:   true,
		Rules:    Rules{LateThreshold: 15 * time.Minute},
	}
}

func TestCheckInPersistsAcceptedVerdict(t *testing.T) {
	f := newServiceFixture(activeSession())
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, "S1", 30*time.Minute)
	require.NoError(t, err)

	rec, verdict, err := f.svc.CheckIn(ctx, checkin.Claim{
		SessionID:      "S1",
		StudentID:      "stu-1",
		ScannedPayload: token.Payload,
	})
	require.NoError(t, err)

	assert.True(t, verdict.Accepted)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, MethodQR, rec.Method)
	require.NotNil(t, rec.MatchedTokenID)
	assert.Equal(t, token.ID, *rec.MatchedTokenID)
	assert.Len(t, f.store.inserted, 1)

	// Fan-out to the worker.
	msgs, err := f.q.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, queue.TypeCheckIn, msg.Type)
}

func TestCheckInMarksLateAfterThreshold(t *testing.T) {
	sess := activeSession()
	// Check-in happens 20 minutes after start with a 15 minute threshold.
	sess.StartsAt = time.Date(2026, 3, 9, 9, 40, 0, 0, time.UTC)
	f := newServiceFixture(sess)
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, "S1", 30*time.Minute)
	require.NoError(t, err)

	rec, _, err := f.svc.CheckIn(ctx, checkin.Claim{
		SessionID:      "S1",
		StudentID:      "stu-1",
		ScannedPayload: token.Payload,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)
}

func TestCheckInRejectionIsNotStored(t *testing.T) {
	f := newServiceFixture(activeSession())

	_, verdict, err := f.svc.CheckIn(context.Background(), checkin.Claim{
		SessionID:      "S1",
		StudentID:      "stu-1",
		ScannedPayload: "garbage",
	})
	require.NoError(t, err)

	assert.False(t, verdict.Accepted)
	assert.NotEmpty(t, verdict.Reasons)
	assert.Empty(t, f.store.inserted)
}

func TestCheckInUnknownSession(t *testing.T) {
	f := newServiceFixture(activeSession())

	_, _, err := f.svc.CheckIn(context.Background(), checkin.Claim{
		SessionID: "missing",
		StudentID: "stu-1",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCheckInClosedSession(t *testing.T) {
	sess := activeSession()
	sess.Active = false
	f := newServiceFixture(sess)

	_, _, err := f.svc.CheckIn(context.Background(), checkin.Claim{
		SessionID: "S1",
		StudentID: "stu-1",
	})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCheckInRecordsDistanceForLocationClaims(t *testing.T) {
	sess := activeSession()
	sess.Geofence = &geo.ClassGeofence{Latitude: 48.7887, Longitude: 2.3638, RadiusMeters: 100}
	f := newServiceFixture(sess)

	rec, verdict, err := f.svc.CheckIn(context.Background(), checkin.Claim{
		SessionID: "S1",
		StudentID: "stu-1",
		Location:  &geo.GeoPoint{Latitude: 48.78915, Longitude: 2.3638, Accuracy: 5},
	})
	require.NoError(t, err)

	assert.True(t, verdict.Accepted)
	assert.Equal(t, MethodLocation, rec.Method)
	require.NotNil(t, rec.DistanceMeters)
	assert.InDelta(t, 50, *rec.DistanceMeters, 3)
}

func TestCheckInAttachesUploadedPhotoURL(t *testing.T) {
	f := newServiceFixture(activeSession())
	ctx := context.Background()
	f.svc.photos = &stubUploader{url: "https://cdn.example/photo.jpg"}

	token, err := f.issuer.Issue(ctx, "S1", 30*time.Minute)
	require.NoError(t, err)

	rec, _, err := f.svc.CheckIn(ctx, checkin.Claim{
		SessionID:      "S1",
		StudentID:      "stu-1",
		ScannedPayload: token.Payload,
		Photo:          []byte("jpeg bytes"), // advisory photo, quality not required
	})
	require.NoError(t, err)
	require.NotNil(t, rec.PhotoURL)
	assert.Equal(t, "https://cdn.example/photo.jpg", *rec.PhotoURL)
}

func TestCheckInToleratesPhotoUploadFailure(t *testing.T) {
	f := newServiceFixture(activeSession())
	ctx := context.Background()
	f.svc.photos = &stubUploader{err: errors.New("cdn down")}

	token, err := f.issuer.Issue(ctx, "S1", 30*time.Minute)
	require.NoError(t, err)

	rec, verdict, err := f.svc.CheckIn(ctx, checkin.Claim{
		SessionID:      "S1",
		StudentID:      "stu-1",
		ScannedPayload: token.Payload,
		Photo:          []byte("jpeg bytes"),
	})
	require.NoError(t, err)
	assert.True(t, verdict.Accepted)
	assert.Nil(t, rec.PhotoURL)

	// The record stands and the photo is handed to the worker for retry.
	msgs, err := f.q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.TypeCheckIn, (<-msgs).Type)
	retry := <-msgs
	require.Equal(t, queue.TypePhotoUpload, retry.Type)
	p, err := queue.DecodePhotoUpload(retry)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, p.RecordID)
	assert.Equal(t, []byte("jpeg bytes"), p.Photo)
}

type stubPhotoStore struct {
	id, url string
}

func (s *stubPhotoStore) SetRecordPhotoURL(_ context.Context, id, url string) error {
	s.id, s.url = id, url
	return nil
}

type stubBase64Uploader struct {
	got string
	url string
	err error
}

func (u *stubBase64Uploader) UploadBase64(data string) (string, error) {
	u.got = data
	return u.url, u.err
}

func TestUploadPendingPhotoAttachesURL(t *testing.T) {
	photo := []byte("jpeg bytes")
	msg, err := queue.PhotoUploadMessage("rec-1", photo)
	require.NoError(t, err)

	store := &stubPhotoStore{}
	up := &stubBase64Uploader{url: "https://cdn.example/retry.jpg"}
	require.NoError(t, UploadPendingPhoto(context.Background(), store, up, msg))

	assert.Equal(t, "rec-1", store.id)
	assert.Equal(t, "https://cdn.example/retry.jpg", store.url)

	// The uploader receives a data URL carrying the original bytes.
	require.True(t, strings.HasPrefix(up.got, "data:image/jpeg;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(up.got, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, photo, decoded)
}

func TestUploadPendingPhotoPropagatesUploaderError(t *testing.T) {
	msg, err := queue.PhotoUploadMessage("rec-1", []byte("jpeg bytes"))
	require.NoError(t, err)

	store := &stubPhotoStore{}
	up := &stubBase64Uploader{err: errors.New("cdn down")}
	err = UploadPendingPhoto(context.Background(), store, up, msg)
	require.Error(t, err)
	assert.Empty(t, store.url)
}

func TestUploadPendingPhotoRejectsBadBody(t *testing.T) {
	err := UploadPendingPhoto(context.Background(), &stubPhotoStore{}, &stubBase64Uploader{}, queue.Message{
		Type: queue.TypePhotoUpload,
		Body: []byte("not json"),
	})
	assert.Error(t, err)
}
