package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// HashContent computes the SHA-256 hash of the content and returns it as a
// hex-encoded string.
//
// Returns an empty string if content is empty.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// HashEntry computes the chain hash of e: SHA-256 over its JSON encoding
// with the Hash field cleared. PrevHash is part of the hashed content, so
// each hash commits to the whole history before it.
func HashEntry(e *evidence.Entry) (string, error) {
	c := *e
	c.Hash = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
	}
	return HashContent(data), nil
}

// ChainError reports the first entry whose hash or link does not verify.
type ChainError struct {
	Index   int
	EntryID string
	Reason  string
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("hash chain broken at index %d [entry_id=%s]: %s", e.Index, e.EntryID, e.Reason)
}

// VerifyChain checks entries, ordered oldest first, for tampering. Each
// entry's hash must match its content and each PrevHash must equal the hash
// of the entry before it. The first entry's PrevHash is not checked.
func VerifyChain(entries []*evidence.Entry) error {
	return VerifyChainProgress(entries, nil)
}

// VerifyChainProgress is VerifyChain with a callback invoked with the number
// of entries verified so far. onEntry may be nil.
func VerifyChainProgress(entries []*evidence.Entry, onEntry func(done int)) error {
	for i, e := range entries {
		want, err := HashEntry(e)
		if err != nil {
			return &ChainError{Index: i, EntryID: e.ID, Reason: err.Error()}
		}
		if e.Hash != want {
			return &ChainError{Index: i, EntryID: e.ID, Reason: "content does not match hash"}
		}
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return &ChainError{Index: i, EntryID: e.ID, Reason: "previous hash does not match"}
		}
		if onEntry != nil {
			onEntry(i + 1)
		}
	}
	return nil
}
