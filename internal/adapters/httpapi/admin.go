package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"adinventory/internal/domain"
	"adinventory/internal/usecase/booking"
)

// requireAdmin checks the bearer token against the configured admin token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(s.adminToken))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		got := sha256.Sum256([]byte(token))
		if !ok || !hmac.Equal(got[:], expected[:]) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type confirmRequest struct {
	Operator string `json:"operator"`
}

type slotRequest struct {
	NeighborhoodID string `json:"neighborhood_id"`
	Date           string `json:"date"`
	Placement      string `json:"placement_type"`
}

type moderateRequest struct {
	Reason string `json:"reason,omitempty"`
}

type sponsorAdRequest struct {
	NeighborhoodIDs []string        `json:"neighborhood_ids"`
	City            string          `json:"city,omitempty"`
	Placement       string          `json:"placement_type,omitempty"`
	Start           string          `json:"start"`
	End             string          `json:"end"`
	Creative        domain.Creative `json:"creative"`
}

type sweepRequest struct {
	OlderThan string `json:"older_than,omitempty"`
}

type sweepResponse struct {
	Abandoned []string          `json:"abandoned"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (s *Server) handleConfirmManually(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Operator) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "operator is required")
		return
	}
	orderID := chi.URLParam(r, "id")
	conf, err := s.booking.ConfirmManually(r.Context(), orderID, req.Operator)
	s.writeConfirmation(w, r, orderID, conf, err)
}

func (s *Server) handleRetryActivation(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	conf, err := s.booking.RetryActivation(r.Context(), orderID)
	s.writeConfirmation(w, r, orderID, conf, err)
}

// writeConfirmation answers 202 when the order is paid but some ads still failed to activate.
func (s *Server) writeConfirmation(w http.ResponseWriter, r *http.Request, orderID string, conf domain.OrderConfirmation, err error) {
	var partial *domain.PartialActivationFailure
	if errors.As(err, &partial) {
		s.log.Warn().Err(err).Str("order_id", orderID).Str("request_id", middleware.GetReqID(r.Context())).Msg("admin: activation incomplete")
		resp := confirmationBody(conf)
		resp.FailedLines = partial.LineIDs
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationBody(conf))
}

func (s *Server) decodeSlot(w http.ResponseWriter, r *http.Request) (domain.SlotKey, bool) {
	var req slotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return domain.SlotKey{}, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return domain.SlotKey{}, false
	}
	placement, err := domain.ParsePlacementType(req.Placement)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ReasonInvalidPlacement, err.Error())
		return domain.SlotKey{}, false
	}
	return domain.SlotKey{NeighborhoodID: req.NeighborhoodID, Date: date, Placement: placement}, true
}

func (s *Server) handleBlockSlot(w http.ResponseWriter, r *http.Request) {
	key, ok := s.decodeSlot(w, r)
	if !ok {
		return
	}
	if err := s.booking.BlockSlot(r.Context(), key); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slot": key.String(), "state": string(domain.SlotBlocked)})
}

func (s *Server) handleUnblockSlot(w http.ResponseWriter, r *http.Request) {
	key, ok := s.decodeSlot(w, r)
	if !ok {
		return
	}
	if err := s.booking.UnblockSlot(r.Context(), key); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slot": key.String(), "state": string(domain.SlotOpen)})
}

func (s *Server) handleModerateAd(w http.ResponseWriter, r *http.Request) {
	adID := chi.URLParam(r, "id")
	var (
		ad  domain.Ad
		err error
	)
	switch chi.URLParam(r, "action") {
	case "approve":
		ad, err = s.booking.ApproveAd(r.Context(), adID)
	case "reject":
		var req moderateRequest
		if r.ContentLength != 0 {
			if decodeErr := decodeBody(r, &req); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
				return
			}
		}
		ad, err = s.booking.RejectAd(r.Context(), adID, req.Reason)
	case "pause":
		ad, err = s.booking.PauseAd(r.Context(), adID)
	case "resume":
		ad, err = s.booking.ResumeAd(r.Context(), adID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown ad action")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

func (s *Server) handleSponsorAd(w http.ResponseWriter, r *http.Request) {
	var req sponsorAdRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "start must be YYYY-MM-DD")
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "end must be YYYY-MM-DD")
		return
	}
	var placement domain.PlacementType
	if req.Placement != "" {
		if placement, err = domain.ParsePlacementType(req.Placement); err != nil {
			writeError(w, http.StatusBadRequest, domain.ReasonInvalidPlacement, err.Error())
			return
		}
	}
	ad, err := s.booking.CreateSponsorAd(r.Context(), booking.SponsorAd{
		NeighborhoodIDs: req.NeighborhoodIDs,
		City:            req.City,
		Placement:       placement,
		Start:           start,
		End:             end,
		Creative:        req.Creative,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ad)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	olderThan := s.sweepOlderThan
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "older_than must be a duration")
			return
		}
		olderThan = d
	}
	abandoned, err := s.booking.ExpireStaleOrders(r.Context(), olderThan)
	var failure *domain.StaleOrderSweepFailure
	if errors.As(err, &failure) {
		resp := sweepResponse{Abandoned: abandoned, Failed: make(map[string]string, len(failure.Failed))}
		for id, cause := range failure.Failed {
			resp.Failed[id] = cause.Error()
		}
		writeJSON(w, http.StatusMultiStatus, resp)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if abandoned == nil {
		abandoned = []string{}
	}
	writeJSON(w, http.StatusOK, sweepResponse{Abandoned: abandoned})
}
