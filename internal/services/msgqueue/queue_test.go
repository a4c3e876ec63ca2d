package msgqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func send(t *testing.T, q *Queue, target string, nonce uint64) string {
	t.Helper()
	id, err := q.Send(SendRequest{
		SourceChain: "aurigraph",
		TargetChain: target,
		Sender:      "orchestrator",
		Receiver:    target + "-adapter",
		Type:        models.MessageLockIntent,
		Payload:     []byte(fmt.Sprintf("n%d", nonce)),
		Nonce:       nonce,
	})
	require.NoError(t, err)
	return id
}

func TestReplayProtection(t *testing.T) {
	q := NewQueue(zap.NewNop())
	send(t, q, "ethereum", 1)
	send(t, q, "ethereum", 2)

	// Equal and lower nonces are replays.
	_, err := q.Send(SendRequest{TargetChain: "ethereum", Sender: "orchestrator", Nonce: 2})
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindReplayDetected, bridgeerr.KindOf(err))

	_, err = q.Send(SendRequest{TargetChain: "ethereum", Sender: "orchestrator", Nonce: 1})
	require.Error(t, err)

	// Another (sender, target) pair has its own sequence.
	_, err = q.Send(SendRequest{TargetChain: "ethereum", Sender: "other", Nonce: 1})
	require.NoError(t, err)
	_, err = q.Send(SendRequest{TargetChain: "polygon", Sender: "orchestrator", Nonce: 1})
	require.NoError(t, err)
}

func TestNextNonce(t *testing.T) {
	q := NewQueue(zap.NewNop())
	assert.Equal(t, uint64(1), q.NextNonce("orchestrator", "ethereum"))
	send(t, q, "ethereum", 1)
	assert.Equal(t, uint64(2), q.NextNonce("orchestrator", "ethereum"))
}

func TestFIFOPerChain(t *testing.T) {
	q := NewQueue(zap.NewNop())
	var ids []string
	for n := uint64(1); n <= 5; n++ {
		ids = append(ids, send(t, q, "ethereum", n))
	}

	received := q.Receive("ethereum", nil)
	require.Len(t, received, 5)
	for i, msg := range received {
		assert.Equal(t, ids[i], msg.ID, "FIFO order preserved")
		assert.Equal(t, uint64(i+1), msg.Nonce, "nonces emerge strictly increasing")
	}
}

func TestReceiveFilters(t *testing.T) {
	q := NewQueue(zap.NewNop())
	send(t, q, "ethereum", 1)
	id2, err := q.Send(SendRequest{
		TargetChain: "ethereum", Sender: "orchestrator", Nonce: 2,
		Type: models.MessageRefundNotice,
	})
	require.NoError(t, err)

	refunds := q.Receive("ethereum", func(m *models.CrossChainMessage) bool {
		return m.Type == models.MessageRefundNotice
	})
	require.Len(t, refunds, 1)
	assert.Equal(t, id2, refunds[0].ID)
}

func TestAcknowledge(t *testing.T) {
	q := NewQueue(zap.NewNop())
	id := send(t, q, "ethereum", 1)

	require.NoError(t, q.Acknowledge(id, "receipt-1"))
	msg, err := q.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, msg.Status)
	assert.Equal(t, "receipt-1", msg.Receipt)
	require.NotNil(t, msg.DeliveredAt)

	// Only PENDING messages acknowledge.
	err = q.Acknowledge(id, "again")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))

	// Acknowledged messages no longer appear in Receive.
	assert.Empty(t, q.Receive("ethereum", nil))
}

func TestMarkFailed(t *testing.T) {
	q := NewQueue(zap.NewNop())
	id := send(t, q, "ethereum", 1)

	require.NoError(t, q.MarkFailed(id, "node unreachable"))
	msg, err := q.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, msg.Status)
	assert.Equal(t, "node unreachable", msg.Error)

	err = q.MarkFailed(id, "twice")
	require.Error(t, err)
}

func TestProcessPendingDrains(t *testing.T) {
	q := NewQueue(zap.NewNop())
	for n := uint64(1); n <= 3; n++ {
		send(t, q, "ethereum", n)
	}
	send(t, q, "polygon", 1)

	var seen []uint64
	processed, err := q.ProcessPending(context.Background(),
		func(ctx context.Context, msg *models.CrossChainMessage) (string, error) {
			if msg.TargetChain == "ethereum" {
				seen = append(seen, msg.Nonce)
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Equal(t, []uint64{1, 2, 3}, seen, "per-chain dispatch preserves nonce order")

	status := q.QueueStatus("ethereum")
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, uint64(3), status.Processed)
	assert.NotNil(t, status.LastProcessedAt)
}

func TestProcessPendingFailuresRecorded(t *testing.T) {
	q := NewQueue(zap.NewNop())
	id := send(t, q, "ethereum", 1)
	send(t, q, "ethereum", 2)

	processed, err := q.ProcessPending(context.Background(),
		func(ctx context.Context, msg *models.CrossChainMessage) (string, error) {
			if msg.ID == id {
				return "", errors.New("boom")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	msg, err := q.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, msg.Status)

	status := q.QueueStatus("ethereum")
	assert.Equal(t, uint64(1), status.Processed)
	assert.Equal(t, uint64(1), status.Failed)
}

func TestProcessPendingRecoversFromPanic(t *testing.T) {
	q := NewQueue(zap.NewNop())
	id := send(t, q, "ethereum", 1)

	processed, err := q.ProcessPending(context.Background(),
		func(ctx context.Context, msg *models.CrossChainMessage) (string, error) {
			panic("hook exploded")
		})
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	msg, err := q.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, msg.Status)
}

// No nonce is ever dispatched twice: a drained message never reappears.
func TestNoDoubleDispatch(t *testing.T) {
	q := NewQueue(zap.NewNop())
	for n := uint64(1); n <= 10; n++ {
		send(t, q, "ethereum", n)
	}

	counts := make(map[uint64]int)
	hook := func(ctx context.Context, msg *models.CrossChainMessage) (string, error) {
		counts[msg.Nonce]++
		return "ok", nil
	}
	_, err := q.ProcessPending(context.Background(), hook)
	require.NoError(t, err)
	_, err = q.ProcessPending(context.Background(), hook)
	require.NoError(t, err)

	for nonce, count := range counts {
		assert.Equal(t, 1, count, "nonce %d dispatched once", nonce)
	}
}
