package httpapi

import (
	"errors"
	"io"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"adinventory/internal/adapters/payments"
	"adinventory/internal/domain"
)

const signatureHeader = "Stripe-Signature"

const maxWebhookBody = 1 << 20

type confirmationResponse struct {
	Status         string   `json:"status"`
	OrderID        string   `json:"order_id,omitempty"`
	AlreadyPaid    bool     `json:"already_paid,omitempty"`
	ActivatedAds   []string `json:"activated_ads,omitempty"`
	AwaitingReview []string `json:"awaiting_review,omitempty"`
	FailedLines    []string `json:"failed_lines,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

func confirmationBody(conf domain.OrderConfirmation) confirmationResponse {
	return confirmationResponse{
		Status:         string(conf.Order.Status),
		OrderID:        conf.Order.ID,
		AlreadyPaid:    conf.AlreadyPaid,
		ActivatedAds:   conf.ActivatedAds,
		AwaitingReview: conf.AwaitingReview,
		FailedLines:    conf.FailedLines,
	}
}

// handleWebhook acknowledges every verified event it could record. Confirmations that need
// an operator are escalated by the booking service, so the processor is not asked to retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	err = payments.VerifySignature(body, r.Header.Get(signatureHeader), s.webhookSecret, s.webhookTolerance, s.clock.Now())
	if err != nil {
		s.log.Warn().Err(err).Msg("payments webhook: signature rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
		return
	}
	event, err := payments.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid webhook payload")
		return
	}
	if !event.PaidSession() {
		s.log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("payments webhook: ignored")
		writeJSON(w, http.StatusOK, confirmationResponse{Status: "ignored"})
		return
	}

	conf, err := s.booking.ConfirmPayment(r.Context(), event.PaymentEvent())
	var (
		partial *domain.PartialActivationFailure
		pce     *domain.PaymentConfirmationError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, confirmationBody(conf))
	case errors.As(err, &partial):
		resp := confirmationBody(conf)
		resp.FailedLines = partial.LineIDs
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &pce):
		writeJSON(w, http.StatusOK, confirmationResponse{Status: "needs_reconciliation", OrderID: pce.OrderID, Reason: pce.Reason})
	default:
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("payments webhook: confirm")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to confirm payment")
	}
}

func (s *Server) handleSandboxPay(w http.ResponseWriter, r *http.Request) {
	event, err := s.sandbox.MarkPaid(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	conf, err := s.booking.ConfirmPayment(r.Context(), event)
	if err != nil {
		s.writeBuyerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationBody(conf))
}
