package domain

import (
	"context"
	"time"
)

// OpsTaskKind describes what an operator task asks for.
type OpsTaskKind string

const (
	// OpsActivationRetry re-runs ad activation for flagged lines of a paid order.
	OpsActivationRetry OpsTaskKind = "activation_retry"
	// OpsPaymentReconciliation asks an operator to reconcile a payment by hand.
	OpsPaymentReconciliation OpsTaskKind = "payment_reconciliation"
	// OpsRefund asks an operator to refund a paid order line.
	OpsRefund OpsTaskKind = "refund"
)

// OpsTask is an entry in the operator queue.
type OpsTask struct {
	ID        string      `json:"task_id"`
	Kind      OpsTaskKind `json:"kind"`
	OrderID   string      `json:"order_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	LineIDs   []string    `json:"line_ids,omitempty"`
	Reason    string      `json:"reason"`
	Attempt   int         `json:"attempt"`
	CreatedAt time.Time   `json:"created_at"`
}

// OpsQueue carries operator tasks between the API and the ops worker.
type OpsQueue interface {
	Enqueue(ctx context.Context, task OpsTask) error
	Receive(ctx context.Context) (OpsTask, OpsAckFunc, error)
}

// OpsAckFunc confirms processing or asks for redelivery.
type OpsAckFunc func(success bool) error

// OperatorNotifier alerts human operators.
type OperatorNotifier interface {
	NotifyOperators(ctx context.Context, text string) error
}
