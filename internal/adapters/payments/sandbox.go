package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"adinventory/internal/domain"
)

// Sandbox is an in-process gateway for local runs without processor credentials. Sessions
// are paid through MarkPaid, which the dev API exposes.
type Sandbox struct {
	baseURL  string
	seq      atomic.Int64
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
}

var _ domain.PaymentGateway = (*Sandbox)(nil)

// NewSandbox creates a gateway whose checkout links point at baseURL.
func NewSandbox(baseURL string) *Sandbox {
	return &Sandbox{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: make(map[string]domain.CheckoutSession),
	}
}

func (s *Sandbox) CreateSession(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.OrderID == req.OrderID && sess.Status == domain.SessionOpen {
			return sess, nil
		}
	}
	id := fmt.Sprintf("cs_sandbox_%d", s.seq.Add(1))
	sess := domain.CheckoutSession{
		ID:            id,
		URL:           s.baseURL + "/sandbox/checkout/" + id,
		Status:        domain.SessionOpen,
		PaymentStatus: "unpaid",
		OrderID:       req.OrderID,
		Amount:        req.Amount,
	}
	if !req.ExpiresAt.IsZero() {
		exp := req.ExpiresAt
		sess.ExpiresAt = &exp
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *Sandbox) GetSession(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, fmt.Errorf("sandbox session %s not found", sessionID)
	}
	return sess, nil
}

func (s *Sandbox) ExpireSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("sandbox session %s not found", sessionID)
	}
	if sess.Status == domain.SessionOpen {
		sess.Status = domain.SessionExpired
		s.sessions[sessionID] = sess
	}
	return nil
}

// MarkPaid completes an open session and returns the event the processor would send.
func (s *Sandbox) MarkPaid(sessionID string) (domain.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.PaymentEvent{}, fmt.Errorf("sandbox session %s not found", sessionID)
	}
	if sess.Status == domain.SessionExpired {
		return domain.PaymentEvent{}, fmt.Errorf("sandbox session %s expired", sessionID)
	}
	sess.Status = domain.SessionComplete
	sess.PaymentStatus = "paid"
	s.sessions[sessionID] = sess
	return domain.PaymentEvent{
		EventID:   "evt_" + sessionID,
		SessionID: sess.ID,
		OrderID:   sess.OrderID,
		Amount:    sess.Amount,
	}, nil
}
