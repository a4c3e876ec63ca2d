package models

import (
	"time"
)

// MessageStatus is the wire-stable delivery status of a cross-chain message.
type MessageStatus string

const (
	MessagePending    MessageStatus = "PENDING"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageDelivered  MessageStatus = "DELIVERED"
	MessageFailed     MessageStatus = "FAILED"
	MessageExpired    MessageStatus = "EXPIRED"
)

// MessageType labels the intent carried by a cross-chain message.
type MessageType string

const (
	MessageLockIntent    MessageType = "LOCK_INTENT"
	MessageExecuteIntent MessageType = "EXECUTE_INTENT"
	MessageAck           MessageType = "ACK"
	MessageRefundNotice  MessageType = "REFUND_NOTICE"
)

// CrossChainMessage is a queued intent or acknowledgement between the
// orchestrator and a chain adapter. Nonces are strictly increasing per
// (sender, target chain) pair.
type CrossChainMessage struct {
	ID          string        `json:"id"`
	SourceChain string        `json:"sourceChain"`
	TargetChain string        `json:"targetChain"`
	Sender      string        `json:"sender"`
	Receiver    string        `json:"receiver"`
	Type        MessageType   `json:"type"`
	Payload     []byte        `json:"payload,omitempty"`
	Nonce       uint64        `json:"nonce"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	Receipt     string        `json:"receipt,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (m *CrossChainMessage) Clone() *CrossChainMessage {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		cp.DeliveredAt = &at
	}
	return &cp
}

// QueueStatus is a point-in-time snapshot of one destination queue.
type QueueStatus struct {
	ChainID         string     `json:"chainId"`
	Pending         int        `json:"pending"`
	Processed       uint64     `json:"processed"`
	Failed          uint64     `json:"failed"`
	LastProcessedAt *time.Time `json:"lastProcessedAt,omitempty"`
}
