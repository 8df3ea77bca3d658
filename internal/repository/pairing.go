package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/pairing-relay-go/internal/model"
)

var (
	ErrNotFound           = errors.New("pairing session not found")
	ErrCodeCollision      = errors.New("pairing code already in use")
	ErrPreconditionFailed = errors.New("pairing session is not claimable")
)

// PairingSessionRepository is the durable store behind the pairing protocol.
// Insert and CompareAndSetClaimed must each be a single atomic operation in
// the backend; callers never read-then-write.
type PairingSessionRepository interface {
	// Insert fails with ErrCodeCollision if the code already exists.
	Insert(ctx context.Context, session *model.PairingSession) error
	// Get fails with ErrNotFound for an unknown code.
	Get(ctx context.Context, code string) (*model.PairingSession, error)
	// CompareAndSetClaimed moves a pending session with expires_at > now to
	// claimed. Any other state, including a missing row, yields
	// ErrPreconditionFailed and leaves the row untouched.
	CompareAndSetClaimed(ctx context.Context, code string, now time.Time, responderRef *string) error
	// DeleteExpired removes rows whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type pairingSessionRow struct {
	Code         string         `db:"code"`
	Status       string         `db:"status"`
	InitiatorRef sql.NullString `db:"initiator_ref"`
	ResponderRef sql.NullString `db:"responder_ref"`
	CreatedAt    int64          `db:"created_at"`
	ExpiresAt    int64          `db:"expires_at"`
	ClaimedAt    sql.NullInt64  `db:"claimed_at"`
}

func (row pairingSessionRow) toModel() *model.PairingSession {
	s := &model.PairingSession{
		Code:      row.Code,
		Status:    model.PairingStatus(row.Status),
		CreatedAt: fromMillis(row.CreatedAt),
		ExpiresAt: fromMillis(row.ExpiresAt),
	}
	if row.InitiatorRef.Valid {
		s.InitiatorRef = &row.InitiatorRef.String
	}
	if row.ResponderRef.Valid {
		s.ResponderRef = &row.ResponderRef.String
	}
	if row.ClaimedAt.Valid {
		t := fromMillis(row.ClaimedAt.Int64)
		s.ClaimedAt = &t
	}
	return s
}

type pairingSessionRepo struct {
	db *sqlx.DB
}

// NewPairingSessionRepository returns a SQL-backed store. The same queries
// serve postgres and sqlite; sqlx rebinds placeholders for the driver.
func NewPairingSessionRepository(db *sqlx.DB) PairingSessionRepository {
	return &pairingSessionRepo{db: db}
}

func (r *pairingSessionRepo) Insert(ctx context.Context, session *model.PairingSession) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO pairing_sessions (code, status, initiator_ref, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`), session.Code, string(model.PairingStatusPending), session.InitiatorRef,
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt))
	if isUniqueViolation(err) {
		return ErrCodeCollision
	}
	if err != nil {
		return fmt.Errorf("insert pairing session: %w", err)
	}
	return nil
}

func (r *pairingSessionRepo) Get(ctx context.Context, code string) (*model.PairingSession, error) {
	var row pairingSessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT code, status, initiator_ref, responder_ref, created_at, expires_at, claimed_at
		FROM pairing_sessions
		WHERE code = ?
	`), code)
	found, err := HandleNotFound(&row, err)
	if err != nil {
		return nil, fmt.Errorf("get pairing session: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.toModel(), nil
}

func (r *pairingSessionRepo) CompareAndSetClaimed(ctx context.Context, code string, now time.Time, responderRef *string) error {
	nowMillis := toMillis(now)
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE pairing_sessions SET
			status = 'claimed',
			claimed_at = ?,
			responder_ref = ?
		WHERE code = ? AND status = 'pending' AND expires_at > ?
	`), nowMillis, responderRef, code, nowMillis)
	if err != nil {
		return fmt.Errorf("claim pairing session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim pairing session: %w", err)
	}
	if affected != 1 {
		return ErrPreconditionFailed
	}
	return nil
}

func (r *pairingSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM pairing_sessions
		WHERE expires_at < ?
	`), toMillis(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
