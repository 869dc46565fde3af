package httpapi

import (
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"adinventory/internal/domain"
)

type cartItemRequest struct {
	NeighborhoodID   string `json:"neighborhood_id"`
	Date             string `json:"date"`
	Placement        string `json:"placement_type"`
	ClientPriceCents *int64 `json:"client_price_cents,omitempty"`
}

type cartRequest struct {
	Items        []cartItemRequest `json:"items"`
	ContactEmail string            `json:"contact_email"`
	Creative     domain.Creative   `json:"creative"`
}

type validatedLineResponse struct {
	NeighborhoodID string   `json:"neighborhood_id"`
	Date           string   `json:"date"`
	Placement      string   `json:"placement_type"`
	PriceCents     int64    `json:"price_cents"`
	Slots          []string `json:"slots"`
}

type validateCartResponse struct {
	Lines      []validatedLineResponse `json:"lines"`
	TotalCents int64                   `json:"total_cents"`
	Currency   string                  `json:"currency"`
}

func (req cartRequest) items() ([]domain.CartItem, error) {
	items := make([]domain.CartItem, 0, len(req.Items))
	for i, raw := range req.Items {
		date, err := parseDate(raw.Date)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: date must be YYYY-MM-DD", i)
		}
		items = append(items, domain.CartItem{
			NeighborhoodID:   raw.NeighborhoodID,
			Date:             date,
			Placement:        domain.PlacementType(raw.Placement),
			ClientPriceCents: raw.ClientPriceCents,
		})
	}
	return items, nil
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	placement, err := domain.ParsePlacementType(r.URL.Query().Get("placement"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	month := s.clock.Now().UTC()
	if raw := r.URL.Query().Get("month"); raw != "" {
		month, err = time.Parse("2006-01", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "month must be YYYY-MM")
			return
		}
	}
	view, err := s.availability.GetAvailability(r.Context(), chi.URLParam(r, "id"), placement, month)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	items, err := req.items()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cart, err := s.booking.ValidateCart(r.Context(), items, req.ContactEmail)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := validateCartResponse{TotalCents: cart.TotalCents, Currency: cart.Currency}
	for _, line := range cart.Lines {
		slots := make([]string, 0, len(line.Slots))
		for _, key := range line.Slots {
			slots = append(slots, key.String())
		}
		resp.Lines = append(resp.Lines, validatedLineResponse{
			NeighborhoodID: line.Item.NeighborhoodID,
			Date:           line.Item.Date.Format(time.DateOnly),
			Placement:      string(line.Item.Placement),
			PriceCents:     line.PriceCents,
			Slots:          slots,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	items, err := req.items()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.booking.Checkout(r.Context(), items, req.ContactEmail, req.Creative)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// statusProcessing is what buyers see while an order waits on an operator or an activation retry.
const statusProcessing = "processing"

type orderLineResponse struct {
	NeighborhoodID string `json:"neighborhood_id"`
	Date           string `json:"date"`
	Placement      string `json:"placement_type"`
	PriceCents     int64  `json:"price_cents"`
}

type orderStatusResponse struct {
	OrderID    string              `json:"order_id"`
	Status     string              `json:"status"`
	TotalCents int64               `json:"total_cents"`
	Currency   string              `json:"currency"`
	Lines      []orderLineResponse `json:"lines"`
}

// buyerOrder is the public view of an order. Reconciliation and activation flags collapse
// into "processing".
func buyerOrder(order domain.Order) orderStatusResponse {
	resp := orderStatusResponse{
		OrderID:    order.ID,
		Status:     string(order.Status),
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		Lines:      make([]orderLineResponse, 0, len(order.Lines)),
	}
	if order.NeedsReconciliation {
		resp.Status = statusProcessing
	}
	for _, line := range order.Lines {
		if line.ActivationFailed {
			resp.Status = statusProcessing
		}
		resp.Lines = append(resp.Lines, orderLineResponse{
			NeighborhoodID: line.NeighborhoodID,
			Date:           line.Date.Format(time.DateOnly),
			Placement:      string(line.Placement),
			PriceCents:     line.PriceCents,
		})
	}
	return resp
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, err := s.booking.RefreshOrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeBuyerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyerOrder(order))
}
