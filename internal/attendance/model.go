package attendance

import (
	"time"

	"noesis/internal/checkin"
	"noesis/internal/geo"
)

// Record statuses and check-in methods stored with attendance records.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"

	MethodQR       = "qr"
	MethodLocation = "location"
	MethodManual   = "manual"
)

// Rules is the per-session verification and grading policy.
type Rules struct {
	LateThreshold time.Duration `json:"lateThreshold"` // minutes after start before "late"
	RequirePhoto  bool          `json:"requirePhoto"`
	RequireQR     bool          `json:"requireQr"`
}

// Policy converts the stored rules into the verifier's policy.
func (r Rules) Policy() checkin.Policy {
	return checkin.Policy{RequirePhoto: r.RequirePhoto, RequireQR: r.RequireQR}
}

// Session is one scheduled attendance-taking window for a class.
type Session struct {
	ID       string    `json:"id"`
	ClassID  string    `json:"class_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Active   bool      `json:"active"`
	Rules    Rules     `json:"rules"`

	// Geofence is the class location, nil when the class has none.
	Geofence *geo.ClassGeofence `json:"geofence,omitempty"`
}

// Record is one student's attendance outcome for a session. Records are
// keyed by (session, student), so a second accepted verdict for the same
// pair is idempotent.
type Record struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	Status         string    `json:"status"`
	Method         string    `json:"method"`
	CheckedInAt    time.Time `json:"checked_in_at"`
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
	MatchedTokenID *string   `json:"matched_token_id,omitempty"`
	PhotoURL       *string   `json:"photo_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
