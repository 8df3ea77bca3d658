package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-relay-go/internal/audit"
	apperrors "github.com/openclaw/pairing-relay-go/internal/errors"
	"github.com/openclaw/pairing-relay-go/internal/service"
	"github.com/openclaw/pairing-relay-go/internal/telemetry"
	"github.com/openclaw/pairing-relay-go/internal/util"
)

// maxTTLSeconds bounds the ttlSeconds a client may send before the service
// caps it; it only guards against overflow when converting to a Duration.
const maxTTLSeconds = 24 * 60 * 60

type PairingHandler struct {
	pairingService *service.PairingService
	createLimit    func(http.Handler) http.Handler
	claimLimit     func(http.Handler) http.Handler
}

type PairingHandlerOption func(*PairingHandler)

// WithRateLimits installs per-route limiters for create and claim.
func WithRateLimits(create, claim func(http.Handler) http.Handler) PairingHandlerOption {
	return func(h *PairingHandler) {
		h.createLimit = create
		h.claimLimit = claim
	}
}

func NewPairingHandler(pairingService *service.PairingService, opts ...PairingHandlerOption) *PairingHandler {
	h := &PairingHandler{
		pairingService: pairingService,
		createLimit:    passthrough,
		claimLimit:     passthrough,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func passthrough(next http.Handler) http.Handler { return next }

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.createLimit).Post("/sessions", h.CreateSession)
	r.Get("/sessions/{code}", h.GetStatus)
	r.With(h.claimLimit).Post("/sessions/{code}/claim", h.ClaimSession)
	r.With(h.claimLimit).Post("/claim", h.ClaimSession)

	return r
}

type createSessionRequest struct {
	InitiatorRef string `json:"initiatorRef"`
	TTLSeconds   int    `json:"ttlSeconds"`
}

type claimSessionRequest struct {
	ResponderRef string `json:"responderRef"`
}

// POST /v1/pairing/sessions
func (h *PairingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TTLSeconds < 0 || req.TTLSeconds > maxTTLSeconds {
		writeError(w, apperrors.ValidationError("ttlSeconds is out of range"))
		return
	}

	ctx := r.Context()
	result, err := h.pairingService.CreateSession(ctx, req.InitiatorRef, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		telemetry.RecordOutcome(ctx, "create", string(apperrors.GetCode(err)))
		writeError(w, err)
		return
	}

	telemetry.RecordOutcome(ctx, "create", "ok")
	audit.LogFromRequest(r, audit.Event{
		Type: audit.EventSessionCreate,
		Code: util.MaskCode(result.Code),
		Details: map[string]any{
			"expiresIn": result.ExpiresIn,
		},
	})

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/pairing/sessions/{code}
func (h *PairingHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.pairingService.GetStatus(ctx, chi.URLParam(r, "code"))
	if err != nil {
		telemetry.RecordOutcome(ctx, "get_status", string(apperrors.GetCode(err)))
		writeError(w, err)
		return
	}

	telemetry.RecordOutcome(ctx, "get_status", string(result.Status))
	writeJSON(w, http.StatusOK, result)
}

// POST /v1/pairing/sessions/{code}/claim
// POST /v1/pairing/claim?code=
func (h *PairingHandler) ClaimSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		code = r.URL.Query().Get("code")
	}

	var req claimSessionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	masked := util.MaskCode(util.NormalizeCode(code))

	if err := h.pairingService.ClaimSession(ctx, code, req.ResponderRef); err != nil {
		reason := apperrors.GetCode(err)
		telemetry.RecordOutcome(ctx, "claim", string(reason))
		switch reason {
		case apperrors.ErrCodeAlreadyClaimed, apperrors.ErrCodeExpired, apperrors.ErrCodeNotFound:
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventClaimRejected,
				Code:    masked,
				Details: map[string]any{"reason": string(reason)},
			})
		}
		writeError(w, err)
		return
	}

	telemetry.RecordOutcome(ctx, "claim", "ok")
	audit.LogFromRequest(r, audit.Event{
		Type: audit.EventSessionClaim,
		Code: masked,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeOptionalBody accepts an empty body as the zero request.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return apperrors.ValidationError("Request body too large")
	}
	log.Debug().Err(err).Msg("invalid pairing request body")
	return apperrors.ValidationError("Invalid request body")
}
