// Package services - AuditChain provides the hash-linked status history
// for tamper-evident complaint audit trails.
package services

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"golang.org/x/crypto/blake2b"
)

// AuditChain seals and verifies status history entries. Each entry hashes its
// predecessor's hash, so editing any entry breaks every hash after it.
type AuditChain struct{}

// NewAuditChain creates a new audit chain
func NewAuditChain() *AuditChain {
	return &AuditChain{}
}

// Append seals entry against the current head and returns the extended history
func (a *AuditChain) Append(history []models.StatusHistoryEntry, entry models.StatusHistoryEntry) []models.StatusHistoryEntry {
	entry.PrevHash = ""
	if n := len(history); n > 0 {
		entry.PrevHash = history[n-1].Hash
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Hash = hashEntry(entry)
	return append(history, entry)
}

// Verify recomputes the chain and returns the index of the first broken entry, or -1
func (a *AuditChain) Verify(history []models.StatusHistoryEntry) int {
	prev := ""
	for i, e := range history {
		if e.PrevHash != prev || hashEntry(e) != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}

// Head returns the hash of the last entry
func (a *AuditChain) Head(history []models.StatusHistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Hash
}

// hashEntry computes BLAKE2b-256 over prevHash|status|timestamp|actor|notes
func hashEntry(e models.StatusHistoryEntry) string {
	payload := strings.Join([]string{
		e.PrevHash,
		string(e.Status),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor,
		e.Notes,
	}, "|")
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
