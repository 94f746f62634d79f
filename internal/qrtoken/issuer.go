package qrtoken

import (
	"context"
	"time"
)

// Issuer creates and validates time-bounded check-in tokens.
type Issuer struct {
	store Store
	now   func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the wall clock, letting tests control expiry.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer over the given active-token store.
func NewIssuer(store Store, opts ...Option) *Issuer {
	i := &Issuer{store: store, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue generates a fresh token for a session, valid for ttl from now.
// Expired tokens are lazily evicted on the way; the sweep runs before the
// new token is stored so it can never remove the token being issued.
func (i *Issuer) Issue(ctx context.Context, sessionID string, ttl time.Duration) (CheckInToken, error) {
	now := i.now().UTC()
	if _, err := i.store.Sweep(ctx, now); err != nil {
		return CheckInToken{}, err
	}

	id := newTokenID(now)
	expiresAt := now.Add(ttl)
	payload, err := canonicalPayload(Payload{
		SessionID: sessionID,
		TokenID:   id,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
		Type:      PayloadType,
	})
	if err != nil {
		return CheckInToken{}, err
	}

	token := CheckInToken{
		ID:        id,
		SessionID: sessionID,
		Payload:   payload,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := i.store.Put(ctx, token); err != nil {
		return CheckInToken{}, err
	}
	return token, nil
}

// Rotate issues a new token for an ongoing session. Previously issued
// tokens stay valid until their own expiry.
func (i *Issuer) Rotate(ctx context.Context, sessionID string, ttl time.Duration) (CheckInToken, error) {
	return i.Issue(ctx, sessionID, ttl)
}

// Validate checks scanned QR text against the active-token set. Expected
// failures come back as ErrMalformed, ErrUnknown, ErrExpired or
// ErrMismatch. A valid token stays active: the same displayed code serves
// every student who scans it within the validity window.
func (i *Issuer) Validate(ctx context.Context, scanned string) (CheckInToken, error) {
	parsed, err := parsePayload(scanned)
	if err != nil {
		return CheckInToken{}, err
	}

	token, ok, err := i.store.Get(ctx, parsed.TokenID)
	if err != nil {
		return CheckInToken{}, err
	}
	if !ok {
		return CheckInToken{}, ErrUnknown
	}
	if token.Expired(i.now().UTC()) {
		_, _ = i.store.Delete(ctx, token.ID)
		return CheckInToken{}, ErrExpired
	}
	// A stale or tampered payload can carry the right ID with the wrong
	// contents; the canonical string must match exactly.
	if token.Payload != scanned {
		return CheckInToken{}, ErrMismatch
	}
	return token, nil
}

// Deactivate removes a token before its expiry and reports whether it was
// still in the active set.
func (i *Issuer) Deactivate(ctx context.Context, tokenID string) (bool, error) {
	return i.store.Delete(ctx, tokenID)
}

// LookupActive returns the live token for a session, if any, so the UI can
// keep displaying the current code.
func (i *Issuer) LookupActive(ctx context.Context, sessionID string) (CheckInToken, bool, error) {
	return i.store.ActiveForSession(ctx, sessionID, i.now().UTC())
}

// SweepExpired actively evicts expired tokens; the worker runs this on a
// timer in addition to the lazy eviction on issue.
func (i *Issuer) SweepExpired(ctx context.Context) (int, error) {
	return i.store.Sweep(ctx, i.now().UTC())
}
