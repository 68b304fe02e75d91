package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoutingKey is the key change notifications are published under.
const RoutingKey = "invoices.changed"

// Reasons carried in InvoicesChangedMessage.
const (
	ReasonCreated = "created"
	ReasonUpdated = "updated"
	ReasonDeleted = "deleted"
	ReasonReload  = "reload"
)

// InvoicesChangedMessage tells listeners that the invoice list is stale.
// It carries no invoice data: receivers reload from their backend.
type InvoicesChangedMessage struct {
	ID        int64     `json:"id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInvoicesChangedMessage stamps a notification with the current time.
func NewInvoicesChangedMessage(id int64, reason string) *InvoicesChangedMessage {
	return &InvoicesChangedMessage{
		ID:        id,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InvoicesChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoicesChangedMessageFromJSON decodes a notification. A missing reason
// is an error so malformed publishers are noticed.
func InvoicesChangedMessageFromJSON(data []byte) (*InvoicesChangedMessage, error) {
	var msg InvoicesChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Reason == "" {
		return nil, fmt.Errorf("invoices changed message: missing reason")
	}
	return &msg, nil
}
