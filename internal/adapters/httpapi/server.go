package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"adinventory/internal/adapters/payments"
	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/usecase/availability"
	"adinventory/internal/usecase/booking"
	"adinventory/internal/usecase/feed"
)

type Server struct {
	booking      *booking.Service
	availability *availability.Service
	feed         *feed.Service
	log          zerolog.Logger
	clock        clock.Clock

	adminToken       string
	webhookSecret    string
	webhookTolerance time.Duration
	sandbox          *payments.Sandbox
	sweepOlderThan   time.Duration
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithAdminToken protects the /admin routes. Without a token they are not mounted.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithWebhookSecret enables the processor webhook.
func WithWebhookSecret(secret string, tolerance time.Duration) Option {
	return func(s *Server) {
		s.webhookSecret = secret
		s.webhookTolerance = tolerance
	}
}

// WithSandbox mounts the sandbox checkout page that marks sessions paid.
func WithSandbox(sb *payments.Sandbox) Option {
	return func(s *Server) {
		s.sandbox = sb
	}
}

// WithSweepAge sets the default order age used by the manual sweep endpoint.
func WithSweepAge(d time.Duration) Option {
	return func(s *Server) {
		s.sweepOlderThan = d
	}
}

func NewServer(b *booking.Service, a *availability.Service, f *feed.Service, opts ...Option) *Server {
	srv := &Server{
		booking:          b,
		availability:     a,
		feed:             f,
		log:              zerolog.Nop(),
		clock:            clock.NewSystem(),
		webhookTolerance: 5 * time.Minute,
		sweepOlderThan:   30 * time.Minute,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/v1/neighborhoods/{id}/availability", s.handleAvailability)
	r.Post("/api/v1/cart/validate", s.handleValidateCart)
	r.Post("/api/v1/checkout", s.handleCheckout)
	r.Get("/api/v1/orders/{id}", s.handleOrderStatus)

	r.Post("/api/v1/feed/{id}", s.handleInject)
	r.Get("/api/v1/feed/{id}/story", s.handleStory)

	if s.webhookSecret != "" {
		r.Post("/api/v1/payments/webhook", s.handleWebhook)
	}
	if s.sandbox != nil {
		r.Post("/sandbox/checkout/{sessionID}", s.handleSandboxPay)
	}
	if s.adminToken != "" {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/orders/{id}/confirm", s.handleConfirmManually)
			r.Post("/orders/{id}/retry-activation", s.handleRetryActivation)
			r.Post("/orders/sweep", s.handleSweep)
			r.Post("/slots/block", s.handleBlockSlot)
			r.Post("/slots/unblock", s.handleUnblockSlot)
			r.Post("/ads", s.handleSponsorAd)
			r.Post("/ads/{id}/{action}", s.handleModerateAd)
		})
	}

	return r
}

type errorResponse struct {
	Error  string         `json:"error"`
	Code   string         `json:"code"`
	Detail map[string]any `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps use case errors onto HTTP responses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		conflict *domain.ConflictError
		mismatch *domain.PricingMismatchError
		pce      *domain.PaymentConfirmationError
	)
	switch {
	case errors.As(err, &conflict):
		detail := map[string]any{"item": conflict.Item.Key().String(), "reason": conflict.Reason}
		if conflict.Slot != nil {
			detail["slot"] = conflict.Slot.String()
		}
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: conflict.Reason, Detail: detail})
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "pricing_mismatch", Detail: map[string]any{
			"item":         mismatch.Item.Key().String(),
			"client_cents": mismatch.ClientCents,
			"server_cents": mismatch.ServerCents,
		}})
	case errors.As(err, &pce):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: pce.Reason, Detail: map[string]any{
			"order_id":   pce.OrderID,
			"session_id": pce.SessionID,
		}})
	case errors.Is(err, domain.ErrNeighborhoodNotFound):
		writeError(w, http.StatusNotFound, "neighborhood_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrAdNotFound):
		writeError(w, http.StatusNotFound, "ad_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSlotBooked):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrOutOfHorizon):
		writeError(w, http.StatusBadRequest, domain.ReasonOutOfHorizon, err.Error())
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrInvalidEmail), errors.Is(err, domain.ErrInvalidCreative):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// writeBuyerError keeps payment and activation failures generic on public routes.
func (s *Server) writeBuyerError(w http.ResponseWriter, err error) {
	var (
		pce     *domain.PaymentConfirmationError
		partial *domain.PartialActivationFailure
	)
	switch {
	case errors.As(err, &pce):
		s.log.Warn().Err(err).Str("order_id", pce.OrderID).Msg("payment held for reconciliation")
		writeJSON(w, http.StatusAccepted, confirmationResponse{Status: statusProcessing, OrderID: pce.OrderID})
	case errors.As(err, &partial):
		s.log.Warn().Err(err).Str("order_id", partial.OrderID).Msg("activation pending retry")
		writeJSON(w, http.StatusAccepted, confirmationResponse{Status: statusProcessing, OrderID: partial.OrderID})
	default:
		s.writeDomainError(w, err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(time.DateOnly, raw)
}
