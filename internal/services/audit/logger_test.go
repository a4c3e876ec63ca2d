package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.ndjson")
	logger, err := NewLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Entry{
		ID:          "1",
		EntityID:    "transfer-1",
		Operation:   "TRANSFER_INITIATE",
		SourceChain: "ethereum",
		TargetChain: "polygon",
		Amount:      "100",
		Status:      "SUCCESS",
	}))
	require.NoError(t, logger.Log(Entry{
		ID:            "2",
		EntityID:      "transfer-2",
		Operation:     "TRANSFER_REFUND",
		Status:        "FAILURE",
		FailureReason: "not expired",
	}))

	entries, err := logger.Read()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "TRANSFER_INITIATE", entries[0].Operation)
	assert.False(t, entries[0].Timestamp.IsZero(), "timestamp auto-stamped")
	assert.Equal(t, "not expired", entries[1].FailureReason)
}

func TestReadMissingFile(t *testing.T) {
	logger, err := NewLogger(filepath.Join(t.TempDir(), "never-written.ndjson"))
	require.NoError(t, err)
	entries, err := logger.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
