package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"adinventory/internal/domain"
)

var ErrInvalidWebhookSignature = errors.New("payments: invalid webhook signature")

// Event types that carry a paid checkout session.
const (
	EventSessionCompleted    = "checkout.session.completed"
	EventAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	EventSessionExpired      = "checkout.session.expired"
)

// Event is a decoded processor notification.
type Event struct {
	ID      string
	Type    string
	Session domain.CheckoutSession
	Raw     map[string]any
}

// ParseEvent decodes a webhook body.
func ParseEvent(data []byte) (Event, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	ev := Event{
		ID:   firstString(raw, "id"),
		Type: firstString(raw, "type"),
		Raw:  raw,
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("webhook without type")
	}
	object := firstMap(firstMap(raw, "data"), "object")
	if object == nil {
		return ev, nil
	}
	sess, err := sessionFromMap(object)
	if err != nil {
		return Event{}, err
	}
	ev.Session = sess
	return ev, nil
}

// PaidSession reports whether the event confirms payment of a session.
func (e Event) PaidSession() bool {
	switch e.Type {
	case EventSessionCompleted, EventAsyncPaymentSuccess:
		return e.Session.ID != "" && e.Session.Paid()
	default:
		return false
	}
}

// PaymentEvent converts the event for the booking service.
func (e Event) PaymentEvent() domain.PaymentEvent {
	return domain.PaymentEvent{
		EventID:   e.ID,
		SessionID: e.Session.ID,
		OrderID:   e.Session.OrderID,
		Amount:    e.Session.Amount,
	}
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header: an HMAC-SHA256 over
// "<t>.<payload>" keyed with secret. Timestamps older than tolerance are rejected.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("webhook secret is not configured")
	}
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidWebhookSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidWebhookSignature
	}
	if tolerance > 0 && now.Sub(time.Unix(unix, 0)) > tolerance {
		return fmt.Errorf("%w: timestamp too old", ErrInvalidWebhookSignature)
	}

	expected := Sign(payload, secret, unix)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidWebhookSignature
}

// Sign returns the raw v1 signature of payload at timestamp.
func Sign(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader builds a header value for payload, as the processor would send it.
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(Sign(payload, secret, at.Unix())))
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if v, ok := m[key]; ok {
			switch value := v.(type) {
			case string:
				if value != "" {
					return value
				}
			case json.Number:
				return value.String()
			case float64:
				return strconv.FormatFloat(value, 'f', -1, 64)
			}
		}
	}
	return ""
}

func firstMap(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if mv, ok := v.(map[string]any); ok {
				return mv
			}
		}
	}
	return nil
}
