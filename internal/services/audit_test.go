package services

import (
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHistory(a *AuditChain) []models.StatusHistoryEntry {
	t0 := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var h []models.StatusHistoryEntry
	h = a.Append(h, models.StatusHistoryEntry{Status: models.StatusSubmitted, Timestamp: t0, Actor: "citizen"})
	h = a.Append(h, models.StatusHistoryEntry{Status: models.StatusProcessing, Timestamp: t0.Add(time.Second), Actor: "system"})
	h = a.Append(h, models.StatusHistoryEntry{Status: models.StatusAssigned, Timestamp: t0.Add(2 * time.Second), Actor: "system", Notes: "PUBLIC_WORKS"})
	return h
}

func TestAuditChainLinksEntries(t *testing.T) {
	a := NewAuditChain()
	h := buildHistory(a)

	require.Len(t, h, 3)
	assert.Empty(t, h[0].PrevHash)
	assert.Equal(t, h[0].Hash, h[1].PrevHash)
	assert.Equal(t, h[1].Hash, h[2].PrevHash)
	assert.Len(t, h[2].Hash, 64)
	assert.Equal(t, -1, a.Verify(h))
	assert.Equal(t, h[2].Hash, a.Head(h))
}

func TestAuditChainDetectsTampering(t *testing.T) {
	a := NewAuditChain()

	edited := buildHistory(a)
	edited[1].Actor = "someone-else"
	assert.Equal(t, 1, a.Verify(edited))

	removed := buildHistory(a)
	removed = append(removed[:1], removed[2:]...)
	assert.Equal(t, 1, a.Verify(removed))

	rehashed := buildHistory(a)
	rehashed[0].Notes = "rewritten"
	rehashed[0].Hash = hashEntry(rehashed[0])
	assert.Equal(t, 1, a.Verify(rehashed), "a consistent rewrite still breaks the next link")
}

func TestAuditChainEmptyHistory(t *testing.T) {
	a := NewAuditChain()
	assert.Equal(t, -1, a.Verify(nil))
	assert.Empty(t, a.Head(nil))
}
