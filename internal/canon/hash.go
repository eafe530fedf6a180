package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainMatch = "lasso/match/v1"
	DomainEvent = "lasso/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MatchID computes the identifier of a match between two users committed in
// the given pass. The pair is order-insensitive.
func MatchID(a, b int64, passSeq int64) string {
	if b < a {
		a, b = b, a
	}
	data, err := Marshal(Object{
		"pair": []int64{a, b},
		"pass": passSeq,
	})
	if err != nil {
		// Only integers are marshaled above.
		panic(fmt.Sprintf("MatchID: %v", err))
	}
	return "m_" + hashWithDomain(DomainMatch, data)[:32]
}

// EventKey computes the deduplication key for a transport event.
// Keys are fixed length so they fit any backend's key limits.
func EventKey(userID int64, eventID string) (string, error) {
	data, err := Marshal(Object{
		"event_id": eventID,
		"user_id":  userID,
	})
	if err != nil {
		return "", fmt.Errorf("EventKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, data), nil
}
