package attendance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"noesis/internal/checkin"
	"noesis/internal/queue"
)

// ErrSessionClosed is returned for claims against a session that is no
// longer taking attendance.
var ErrSessionClosed = errors.New("attendance: session closed")

// Store is the slice of the repository the service needs.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
}

// PhotoUploader stores verification photos and returns a public URL.
type PhotoUploader interface {
	UploadBytes(data []byte, filename string) (string, error)
}

// Service turns accepted check-in verdicts into attendance records.
type Service struct {
	store    Store
	verifier *checkin.Verifier
	photos   PhotoUploader
	q        queue.Queue
	now      func() time.Time
}

// NewService creates a service. photos and q may be nil; photo upload and
// worker fan-out are then skipped.
func NewService(store Store, verifier *checkin.Verifier, photos PhotoUploader, q queue.Queue) *Service {
	return &Service{store: store, verifier: verifier, photos: photos, q: q, now: time.Now}
}

// WithClock overrides the wall clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	return s.store.UpsertDevice(ctx, deviceID)
}

// CheckIn evaluates a claim against its session's geofence and policy and
// persists a record when the verdict is accepted. Rejected verdicts come
// back with reasons and are never stored; resubmitting is the student's
// move. A second accepted claim for the same student returns the existing
// record.
func (s *Service) CheckIn(ctx context.Context, claim checkin.Claim) (Record, checkin.Verdict, error) {
	sess, err := s.store.GetSession(ctx, claim.SessionID)
	if err != nil {
		return Record{}, checkin.Verdict{}, err
	}
	if !sess.Active {
		return Record{}, checkin.Verdict{}, ErrSessionClosed
	}

	verdict, err := s.verifier.Verify(ctx, claim, sess.Geofence, sess.Rules.Policy())
	if err != nil {
		return Record{}, checkin.Verdict{}, err
	}
	if !verdict.Accepted {
		return Record{}, verdict, nil
	}

	now := s.now().UTC()
	status := StatusPresent
	if now.After(sess.StartsAt.Add(sess.Rules.LateThreshold)) {
		status = StatusLate
	}

	rec := Record{
		SessionID:   claim.SessionID,
		StudentID:   claim.StudentID,
		Status:      status,
		Method:      verdict.Method,
		CheckedInAt: now,
	}
	if verdict.MatchedTokenID != "" {
		rec.MatchedTokenID = &verdict.MatchedTokenID
	}
	if verdict.DistanceMeters != nil {
		d := checkin.RoundDistance(*verdict.DistanceMeters)
		rec.DistanceMeters = &d
	}
	photoPending := false
	if len(claim.Photo) > 0 && s.photos != nil {
		name := fmt.Sprintf("%s-%s.jpg", claim.SessionID, claim.StudentID)
		url, err := s.photos.UploadBytes(claim.Photo, name)
		if err != nil {
			log.Printf("photo upload failed for session %s student %s, deferring to worker: %v", claim.SessionID, claim.StudentID, err)
			photoPending = true
		} else {
			rec.PhotoURL = &url
		}
	}

	stored, err := s.store.InsertRecord(ctx, rec)
	if err != nil {
		return Record{}, verdict, err
	}

	if s.q != nil {
		if err := s.q.Publish(ctx, queue.CheckInMessage(stored.ID)); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
		// The record stands either way; the worker re-uploads the photo and
		// attaches the URL. A duplicate claim that matched an existing record
		// with a URL already set needs no retry.
		if photoPending && stored.PhotoURL == nil {
			msg, err := queue.PhotoUploadMessage(stored.ID, claim.Photo)
			if err != nil {
				log.Printf("photo retry encode failed for record %s: %v", stored.ID, err)
			} else if err := s.q.Publish(ctx, msg); err != nil {
				log.Printf("photo retry publish failed for record %s: %v", stored.ID, err)
			}
		}
	}
	return stored, verdict, nil
}

// PhotoStore is the repository slice the upload retry path needs.
type PhotoStore interface {
	SetRecordPhotoURL(ctx context.Context, id, url string) error
}

// Base64Uploader uploads a base64 data URL and returns the public HTTPS URL.
type Base64Uploader interface {
	UploadBase64(data string) (string, error)
}

// UploadPendingPhoto handles one photo retry message: it re-uploads the
// carried photo and attaches the resulting URL to its record.
func UploadPendingPhoto(ctx context.Context, store PhotoStore, up Base64Uploader, msg queue.Message) error {
	p, err := queue.DecodePhotoUpload(msg)
	if err != nil {
		return err
	}
	url, err := up.UploadBase64("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.Photo))
	if err != nil {
		return fmt.Errorf("attendance: photo re-upload for record %s: %w", p.RecordID, err)
	}
	return store.SetRecordPhotoURL(ctx, p.RecordID, url)
}
