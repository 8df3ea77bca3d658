package model

import "time"

// Pairing codes are fixed-length strings over upper-case letters and digits.
const (
	CodeLength   = 6
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PairingSession correlates an initiator and a responder device through a
// short-lived code. Only pending and claimed are ever persisted.
type PairingSession struct {
	Code         string        `db:"code" json:"code"`
	Status       PairingStatus `db:"status" json:"status"`
	InitiatorRef *string       `db:"initiator_ref" json:"initiatorRef,omitempty"`
	ResponderRef *string       `db:"responder_ref" json:"responderRef,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	ExpiresAt    time.Time     `db:"expires_at" json:"expiresAt"`
	ClaimedAt    *time.Time    `db:"claimed_at" json:"claimedAt,omitempty"`
}

// StatusAt derives the observable status at now. Every read and claim path
// goes through here so that expiry is evaluated the same way everywhere.
// A session is live only while ExpiresAt is strictly after now, matching the
// store's conditional claim predicate.
func (s *PairingSession) StatusAt(now time.Time) PairingStatus {
	if s.Status == PairingStatusClaimed {
		return PairingStatusClaimed
	}
	if !s.ExpiresAt.After(now) {
		return PairingStatusExpired
	}
	return PairingStatusPending
}

type CreatePairingSessionParams struct {
	Code         string
	InitiatorRef *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (p CreatePairingSessionParams) Session() *PairingSession {
	return &PairingSession{
		Code:         p.Code,
		Status:       PairingStatusPending,
		InitiatorRef: p.InitiatorRef,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}
