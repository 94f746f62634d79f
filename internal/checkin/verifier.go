package checkin

import (
	"context"
	"errors"
	"fmt"
	"math"

	"noesis/internal/geo"
	"noesis/internal/photoquality"
	"noesis/internal/qrtoken"
)

// ReasonCode tags an expected rejection so callers can branch without
// parsing message text.
type ReasonCode string

const (
	ReasonMalformedToken       ReasonCode = "malformed_token"
	ReasonUnknownToken         ReasonCode = "unknown_token"
	ReasonExpiredToken         ReasonCode = "expired_token"
	ReasonTokenMismatch        ReasonCode = "token_mismatch"
	ReasonOutsideGeofence      ReasonCode = "outside_geofence"
	ReasonPoorAccuracy         ReasonCode = "poor_accuracy"
	ReasonPhotoQuality         ReasonCode = "photo_quality"
	ReasonPhotoRequired        ReasonCode = "photo_required"
	ReasonQRRequired           ReasonCode = "qr_required"
	ReasonInsufficientEvidence ReasonCode = "insufficient_evidence"
)

// Reason is one structured rejection cause. Message is suitable for
// showing the student verbatim.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// Claim is one student's check-in attempt. ScannedPayload, Location and
// Photo are each optional; whichever evidence the client captured.
type Claim struct {
	SessionID      string
	StudentID      string
	ScannedPayload string
	Location       *geo.GeoPoint
	Photo          []byte
}

// Policy is the per-session verification policy.
type Policy struct {
	// RequirePhoto makes an acceptable photo a hard condition.
	RequirePhoto bool
	// RequireQR blocks acceptance unless the QR check passed, even when
	// location evidence alone would have sufficed.
	RequireQR bool
}

// Verdict is the outcome of evaluating one claim. Diagnostic fields are
// populated only for checks that actually ran.
type Verdict struct {
	Accepted       bool                  `json:"accepted"`
	Reasons        []Reason              `json:"reasons,omitempty"`
	Method         string                `json:"method,omitempty"` // qr or location, set when accepted
	MatchedTokenID string                `json:"matchedTokenId,omitempty"`
	DistanceMeters *float64              `json:"distanceMeters,omitempty"` // nil when the location check never ran
	AccuracyLevel  geo.AccuracyLevel     `json:"accuracyLevel,omitempty"`
	PhotoVerdict   *photoquality.Verdict `json:"photoVerdict,omitempty"`
}

// TokenValidator validates scanned QR payloads against the active-token set.
type TokenValidator interface {
	Validate(ctx context.Context, scanned string) (qrtoken.CheckInToken, error)
}

// Verifier combines token validation, geofencing and photo screening into
// one verdict per claim. It holds no per-claim state; concurrent claims
// never interfere.
type Verifier struct {
	tokens TokenValidator
}

// NewVerifier creates a verifier over the given token validator.
func NewVerifier(tokens TokenValidator) *Verifier {
	return &Verifier{tokens: tokens}
}

// Verify evaluates a claim against the session's geofence (nil when the
// class has none configured) and policy. It accepts on the strongest
// available evidence: a valid QR token or a trustworthy in-fence location,
// with the photo as supplementary evidence unless policy requires it.
// Expected failures come back as verdict reasons, never as an error; the
// error return is reserved for infrastructure faults such as a token store
// that cannot be reached.
func (v *Verifier) Verify(ctx context.Context, claim Claim, fence *geo.ClassGeofence, policy Policy) (Verdict, error) {
	verdict := Verdict{}
	qrOK := false
	locOK := false

	if claim.ScannedPayload != "" {
		token, err := v.tokens.Validate(ctx, claim.ScannedPayload)
		switch {
		case err == nil && token.SessionID != claim.SessionID:
			verdict.Reasons = append(verdict.Reasons, Reason{
				Code:    ReasonTokenMismatch,
				Message: "Scanned code belongs to a different session",
			})
		case err == nil:
			qrOK = true
			verdict.MatchedTokenID = token.ID
		default:
			reason, fatal := tokenFailure(err)
			if fatal {
				return Verdict{}, err
			}
			verdict.Reasons = append(verdict.Reasons, reason)
		}
	}

	if claim.Location != nil && fence != nil {
		distance := geo.DistanceMeters(*claim.Location, *fence)
		verdict.DistanceMeters = &distance
		verdict.AccuracyLevel = geo.GradeAccuracy(claim.Location.Accuracy)

		within := distance <= fence.RadiusMeters
		switch {
		case !within:
			verdict.Reasons = append(verdict.Reasons, Reason{
				Code: ReasonOutsideGeofence,
				Message: fmt.Sprintf("You are %.0fm away from the classroom. Please be within %.0fm to check in.",
					distance, fence.RadiusMeters),
			})
		case verdict.AccuracyLevel == geo.AccuracyPoor:
			verdict.Reasons = append(verdict.Reasons, Reason{
				Code:    ReasonPoorAccuracy,
				Message: "Location accuracy is poor. Please try again in a clearer area.",
			})
		default:
			locOK = true
		}
	}

	photoOK := false
	if len(claim.Photo) > 0 {
		pv := photoquality.Assess(claim.Photo)
		verdict.PhotoVerdict = &pv
		photoOK = pv.Acceptable
		if policy.RequirePhoto && !photoOK {
			verdict.Reasons = append(verdict.Reasons, Reason{
				Code:    ReasonPhotoQuality,
				Message: photoIssueMessage(pv),
			})
		}
	} else if policy.RequirePhoto {
		verdict.Reasons = append(verdict.Reasons, Reason{
			Code:    ReasonPhotoRequired,
			Message: "This session requires a verification photo",
		})
	}

	if claim.ScannedPayload == "" && (claim.Location == nil || fence == nil) {
		verdict.Reasons = append(verdict.Reasons, Reason{
			Code:    ReasonInsufficientEvidence,
			Message: "Provide a scanned QR code or your location to check in",
		})
	}
	if policy.RequireQR && !qrOK && claim.ScannedPayload == "" {
		verdict.Reasons = append(verdict.Reasons, Reason{
			Code:    ReasonQRRequired,
			Message: "This session requires scanning the displayed QR code",
		})
	}

	verdict.Accepted = (qrOK || locOK) &&
		(!policy.RequireQR || qrOK) &&
		(!policy.RequirePhoto || photoOK)

	if verdict.Accepted {
		verdict.Reasons = nil
		if qrOK {
			verdict.Method = "qr"
		} else {
			verdict.Method = "location"
		}
	}

	observeVerdict(verdict)
	return verdict, nil
}

// tokenFailure maps a validation error to a rejection reason. Anything
// outside the expected set is an infrastructure fault.
func tokenFailure(err error) (Reason, bool) {
	switch {
	case errors.Is(err, qrtoken.ErrMalformed):
		return Reason{Code: ReasonMalformedToken, Message: "Scanned code is not a valid check-in QR"}, false
	case errors.Is(err, qrtoken.ErrUnknown):
		return Reason{Code: ReasonUnknownToken, Message: "Scanned code is no longer active. Ask for a fresh one."}, false
	case errors.Is(err, qrtoken.ErrExpired):
		return Reason{Code: ReasonExpiredToken, Message: "Scanned code has expired. Scan the current one."}, false
	case errors.Is(err, qrtoken.ErrMismatch):
		return Reason{Code: ReasonTokenMismatch, Message: "Scanned code does not match the active token"}, false
	default:
		return Reason{}, true
	}
}

func photoIssueMessage(pv photoquality.Verdict) string {
	if len(pv.Issues) == 0 {
		return "Photo quality insufficient"
	}
	msg := pv.Issues[0]
	if len(pv.Suggestions) > 0 {
		msg += ". " + pv.Suggestions[0] + "."
	}
	return msg
}

// RoundDistance trims a distance for display and storage.
func RoundDistance(meters float64) float64 {
	return math.Round(meters*10) / 10
}
