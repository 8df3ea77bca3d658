package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/pairing-relay-go/internal/errors"
	"github.com/openclaw/pairing-relay-go/internal/metrics"
	"github.com/openclaw/pairing-relay-go/internal/model"
	"github.com/openclaw/pairing-relay-go/internal/repository"
	"github.com/openclaw/pairing-relay-go/internal/util"
)

const (
	maxCreateAttempts = 5
	defaultSessionTTL = 120 * time.Second
	maxSessionTTL     = 600 * time.Second
)

type CreateSessionResult struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int       `json:"expiresIn"`
	ClaimURL  string    `json:"claimUrl,omitempty"`
}

type SessionStatusResult struct {
	Status    model.PairingStatus `json:"status"`
	ExpiresAt time.Time           `json:"expiresAt"`
	ClaimedAt *time.Time          `json:"claimedAt,omitempty"`
}

// PairingService owns the pairing state machine. It keeps no state between
// calls; all serialization happens in the store's conditional writes.
type PairingService struct {
	store        repository.PairingSessionRepository
	codes        CodeSource
	now          func() time.Time
	defaultTTL   time.Duration
	maxTTL       time.Duration
	claimBaseURL string
}

type PairingOption func(*PairingService)

func WithClock(now func() time.Time) PairingOption {
	return func(s *PairingService) { s.now = now }
}

func WithCodeSource(codes CodeSource) PairingOption {
	return func(s *PairingService) { s.codes = codes }
}

func WithTTL(defaultTTL, maxTTL time.Duration) PairingOption {
	return func(s *PairingService) {
		if defaultTTL > 0 {
			s.defaultTTL = defaultTTL
		}
		if maxTTL > 0 {
			s.maxTTL = maxTTL
		}
	}
}

// WithClaimBaseURL enables claimUrl in create results. The base URL is taken
// as configured; it is not derived from request headers.
func WithClaimBaseURL(baseURL string) PairingOption {
	return func(s *PairingService) { s.claimBaseURL = baseURL }
}

func NewPairingService(store repository.PairingSessionRepository, opts ...PairingOption) *PairingService {
	s := &PairingService{
		store:      store,
		codes:      NewCodeGenerator(nil),
		now:        time.Now,
		defaultTTL: defaultSessionTTL,
		maxTTL:     maxSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession allocates a fresh code. A zero ttl selects the default; larger
// values are capped at the configured maximum.
func (s *PairingService) CreateSession(ctx context.Context, initiatorRef string, ttl time.Duration) (*CreateSessionResult, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	ref := util.OptionalString(initiatorRef)

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			log.Error().Err(err).Msg("create pairing session: generate code")
			return nil, apperrors.Internal("Failed to generate pairing code").WithCause(err)
		}

		now := s.now()
		session := model.CreatePairingSessionParams{
			Code:         code,
			InitiatorRef: ref,
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		}.Session()

		err = s.store.Insert(ctx, session)
		if errors.Is(err, repository.ErrCodeCollision) {
			metrics.CodeCollisions.Inc()
			log.Debug().Int("attempt", attempt).Msg("pairing code collision, regenerating")
			continue
		}
		if err != nil {
			metrics.StoreErrors.WithLabelValues("insert").Inc()
			log.Error().Err(err).Msg("create pairing session: insert")
			return nil, apperrors.StoreUnavailable(err)
		}

		metrics.SessionsCreated.Inc()
		log.Info().
			Str("code", util.MaskCode(code)).
			Time("expiresAt", session.ExpiresAt).
			Int("attempt", attempt).
			Msg("pairing session created")

		return &CreateSessionResult{
			Code:      code,
			ExpiresAt: session.ExpiresAt,
			ExpiresIn: int(ttl / time.Second),
			ClaimURL:  s.claimURL(code),
		}, nil
	}

	log.Error().Int("attempts", maxCreateAttempts).Msg("create pairing session: collisions exhausted")
	return nil, apperrors.CollisionExhausted(maxCreateAttempts)
}

// GetStatus reports the derived status. It never writes.
func (s *PairingService) GetStatus(ctx context.Context, code string) (*SessionStatusResult, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}

	session, err := s.load(ctx, code, "get_status")
	if err != nil {
		return nil, err
	}

	status := session.StatusAt(s.now())
	metrics.StatusReads.WithLabelValues(string(status)).Inc()

	return &SessionStatusResult{
		Status:    status,
		ExpiresAt: session.ExpiresAt,
		ClaimedAt: session.ClaimedAt,
	}, nil
}

// ClaimSession attempts the single pending -> claimed transition. Losing a
// race yields AlreadyClaimed; a lapsed TTL yields Expired. Both are ordinary
// outcomes, not faults.
func (s *PairingService) ClaimSession(ctx context.Context, code, responderRef string) error {
	code, err := normalizeCode(code)
	if err != nil {
		return err
	}

	session, err := s.load(ctx, code, "claim")
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			metrics.ClaimOutcomes.WithLabelValues(metrics.OutcomeNotFound).Inc()
		}
		return err
	}

	now := s.now()
	switch session.StatusAt(now) {
	case model.PairingStatusClaimed:
		return s.rejectClaim(code, apperrors.AlreadyClaimed())
	case model.PairingStatusExpired:
		return s.rejectClaim(code, apperrors.Expired())
	}

	err = s.store.CompareAndSetClaimed(ctx, code, now, util.OptionalString(responderRef))
	if err == nil {
		metrics.ClaimOutcomes.WithLabelValues(metrics.OutcomeOK).Inc()
		log.Info().Str("code", util.MaskCode(code)).Msg("pairing session claimed")
		return nil
	}
	if !errors.Is(err, repository.ErrPreconditionFailed) {
		metrics.StoreErrors.WithLabelValues("claim").Inc()
		metrics.ClaimOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error().Err(err).Msg("claim pairing session: compare and set")
		return apperrors.StoreUnavailable(err)
	}

	// The row changed between the read and the conditional write.
	current, err := s.store.Get(ctx, code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.rejectClaim(code, apperrors.Expired())
	case err != nil:
		metrics.StoreErrors.WithLabelValues("claim").Inc()
		log.Error().Err(err).Msg("claim pairing session: re-read")
		return apperrors.StoreUnavailable(err)
	case current.Status == model.PairingStatusClaimed:
		return s.rejectClaim(code, apperrors.AlreadyClaimed())
	default:
		return s.rejectClaim(code, apperrors.Expired())
	}
}

func (s *PairingService) load(ctx context.Context, code, operation string) (*model.PairingSession, error) {
	session, err := s.store.Get(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Pairing session")
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(operation).Inc()
		log.Error().Err(err).Str("operation", operation).Msg("pairing session store read failed")
		return nil, apperrors.StoreUnavailable(err)
	}
	return session, nil
}

func (s *PairingService) rejectClaim(code string, err *apperrors.AppError) error {
	outcome := metrics.OutcomeExpired
	if err.Code == apperrors.ErrCodeAlreadyClaimed {
		outcome = metrics.OutcomeAlreadyClaimed
	}
	metrics.ClaimOutcomes.WithLabelValues(outcome).Inc()
	log.Debug().Str("code", util.MaskCode(code)).Str("outcome", outcome).Msg("pairing claim rejected")
	return err
}

func (s *PairingService) claimURL(code string) string {
	if s.claimBaseURL == "" {
		return ""
	}
	return s.claimBaseURL + "/claim?code=" + url.QueryEscape(code)
}

func normalizeCode(code string) (string, error) {
	if code == "" {
		return "", apperrors.ValidationError("Pairing code is required")
	}
	normalized := util.NormalizeCode(code)
	if !util.IsValidCode(normalized) {
		return "", apperrors.ValidationError("Pairing code must be 6 letters or digits")
	}
	return normalized, nil
}
