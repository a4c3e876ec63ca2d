// Package msgqueue implements the cross-chain message queue and
// delivery tracker: per-destination FIFO queues, acknowledgement,
// failure recording, and nonce-based replay protection.
package msgqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendRequest describes a message to enqueue.
type SendRequest struct {
	SourceChain string
	TargetChain string
	Sender      string
	Receiver    string
	Type        models.MessageType
	Payload     []byte
	Nonce       uint64
}

// ProcessHook handles one dequeued message. Returning an error marks
// the message FAILED; the returned receipt is stored on delivery.
type ProcessHook func(ctx context.Context, msg *models.CrossChainMessage) (receipt string, err error)

// chainStats tracks per-destination delivery counters.
type chainStats struct {
	processed       uint64
	failed          uint64
	lastProcessedAt time.Time
}

// Queue owns the per-destination FIFO queues and the replay-protection
// nonce table.
//
// Thread Safety: one queue mutex guards messages, queues, nonces, and
// stats. The mutex is never held across the processing hook's network
// calls.
type Queue struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	messages  map[string]*models.CrossChainMessage
	queues    map[string][]string // target chain -> FIFO of message ids
	lastNonce map[string]uint64   // sender|target -> last accepted nonce
	stats     map[string]*chainStats
}

// Option customizes the queue.
type Option func(*Queue)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates an empty message queue.
func NewQueue(logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		logger:    logger.Named("msgqueue"),
		now:       time.Now,
		messages:  make(map[string]*models.CrossChainMessage),
		queues:    make(map[string][]string),
		lastNonce: make(map[string]uint64),
		stats:     make(map[string]*chainStats),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func nonceKey(sender, targetChain string) string {
	return sender + "|" + targetChain
}

// Send validates the nonce, assigns an id, and enqueues the message on
// its destination chain's FIFO.
func (q *Queue) Send(req SendRequest) (string, error) {
	if req.TargetChain == "" {
		return "", bridgeerr.E(bridgeerr.KindInvalidRequest, "target chain is required")
	}
	if req.Sender == "" {
		return "", bridgeerr.E(bridgeerr.KindInvalidRequest, "sender is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := nonceKey(req.Sender, req.TargetChain)
	if last, seen := q.lastNonce[key]; seen && req.Nonce <= last {
		return "", bridgeerr.E(bridgeerr.KindReplayDetected,
			"nonce %d not above last seen %d for (%s, %s)", req.Nonce, last, req.Sender, req.TargetChain)
	}

	msg := &models.CrossChainMessage{
		ID:          uuid.New().String(),
		SourceChain: req.SourceChain,
		TargetChain: req.TargetChain,
		Sender:      req.Sender,
		Receiver:    req.Receiver,
		Type:        req.Type,
		Payload:     append([]byte(nil), req.Payload...),
		Nonce:       req.Nonce,
		Status:      models.MessagePending,
		CreatedAt:   q.now().UTC(),
	}
	q.lastNonce[key] = req.Nonce
	q.messages[msg.ID] = msg
	q.queues[req.TargetChain] = append(q.queues[req.TargetChain], msg.ID)

	q.logger.Debug("message enqueued",
		zap.String("messageId", msg.ID),
		zap.String("targetChain", req.TargetChain),
		zap.Uint64("nonce", req.Nonce),
		zap.String("type", string(req.Type)))
	return msg.ID, nil
}

// NextNonce returns the next valid nonce for a (sender, target) pair.
func (q *Queue) NextNonce(sender, targetChain string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastNonce[nonceKey(sender, targetChain)] + 1
}

// Receive returns the undelivered messages for a chain in FIFO order.
// The filter may be nil. Snapshots are deep copies; callers can restart
// the scan at any time.
func (q *Queue) Receive(chainID string, filter func(*models.CrossChainMessage) bool) []*models.CrossChainMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.CrossChainMessage
	for _, id := range q.queues[chainID] {
		msg := q.messages[id]
		if msg == nil || msg.Status != models.MessagePending {
			continue
		}
		if filter != nil && !filter(msg) {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// Message returns a deep copy of one message.
func (q *Queue) Message(id string) (*models.CrossChainMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[id]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "message %q not found", id)
	}
	return msg.Clone(), nil
}

// Acknowledge marks a PENDING message delivered and stamps the receipt.
func (q *Queue) Acknowledge(id, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.messages[id]
	if !ok {
		return bridgeerr.E(bridgeerr.KindNotFound, "message %q not found", id)
	}
	if msg.Status != models.MessagePending {
		return bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"message %q is %s, expected %s", id, msg.Status, models.MessagePending)
	}
	q.deliverLocked(msg, receipt)
	return nil
}

// deliverLocked stamps delivery. Caller holds q.mu.
func (q *Queue) deliverLocked(msg *models.CrossChainMessage, receipt string) {
	at := q.now().UTC()
	msg.Status = models.MessageDelivered
	msg.DeliveredAt = &at
	msg.Receipt = receipt

	s := q.statsLocked(msg.TargetChain)
	s.processed++
	s.lastProcessedAt = at
}

// MarkFailed moves a PENDING or PROCESSING message to FAILED.
func (q *Queue) MarkFailed(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.messages[id]
	if !ok {
		return bridgeerr.E(bridgeerr.KindNotFound, "message %q not found", id)
	}
	if msg.Status != models.MessagePending && msg.Status != models.MessageProcessing {
		return bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"message %q is %s, cannot fail", id, msg.Status)
	}
	msg.Status = models.MessageFailed
	msg.Error = reason
	q.statsLocked(msg.TargetChain).failed++
	return nil
}

func (q *Queue) statsLocked(chainID string) *chainStats {
	s, ok := q.stats[chainID]
	if !ok {
		s = &chainStats{}
		q.stats[chainID] = s
	}
	return s
}

// ProcessPending drains every per-chain queue to exhaustion, invoking
// the hook per message. Hook panics and errors mark the message FAILED;
// processing continues with the next message.
func (q *Queue) ProcessPending(ctx context.Context, hook ProcessHook) (int, error) {
	processed := 0
	for {
		msg := q.dequeue()
		if msg == nil {
			return processed, ctx.Err()
		}
		if ctx.Err() != nil {
			// Put the claim back as pending so a later drain retries it.
			q.requeue(msg.ID)
			return processed, ctx.Err()
		}

		receipt, err := q.invoke(ctx, hook, msg)
		q.mu.Lock()
		stored, ok := q.messages[msg.ID]
		if ok {
			if err != nil {
				stored.Status = models.MessageFailed
				stored.Error = err.Error()
				q.statsLocked(stored.TargetChain).failed++
				q.mu.Unlock()
				q.logger.Warn("message processing failed",
					zap.String("messageId", msg.ID),
					zap.Error(err))
				continue
			}
			q.deliverLocked(stored, receipt)
			processed++
		}
		q.mu.Unlock()
	}
}

// invoke runs the hook, converting panics into errors.
func (q *Queue) invoke(ctx context.Context, hook ProcessHook, msg *models.CrossChainMessage) (receipt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing hook panicked: %v", r)
		}
	}()
	return hook(ctx, msg)
}

// dequeue claims the head pending message of one chain's FIFO and marks
// it PROCESSING. Chains are visited in map order, so no ordering across
// chains is defined. Returns nil when every queue is drained.
func (q *Queue) dequeue() *models.CrossChainMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	for chain, ids := range q.queues {
		for len(ids) > 0 {
			id := ids[0]
			ids = ids[1:]
			msg := q.messages[id]
			if msg == nil || msg.Status != models.MessagePending {
				continue
			}
			q.queues[chain] = ids
			msg.Status = models.MessageProcessing
			return msg.Clone()
		}
		q.queues[chain] = ids
	}
	return nil
}

// requeue returns a claimed message to PENDING at the front of its
// queue.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[id]
	if !ok || msg.Status != models.MessageProcessing {
		return
	}
	msg.Status = models.MessagePending
	q.queues[msg.TargetChain] = append([]string{id}, q.queues[msg.TargetChain]...)
}

// QueueStatus snapshots one destination queue's counters.
func (q *Queue) QueueStatus(chainID string) *models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for _, id := range q.queues[chainID] {
		if msg := q.messages[id]; msg != nil && msg.Status == models.MessagePending {
			pending++
		}
	}
	status := &models.QueueStatus{ChainID: chainID, Pending: pending}
	if s, ok := q.stats[chainID]; ok {
		status.Processed = s.processed
		status.Failed = s.failed
		if !s.lastProcessedAt.IsZero() {
			at := s.lastProcessedAt
			status.LastProcessedAt = &at
		}
	}
	return status
}
